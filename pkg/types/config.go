package types

import "time"

// Config 主配置结构
type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Provider   ProviderConfig  `mapstructure:"provider"`
	Network    NetworkConfig   `mapstructure:"network"`
	Indicators IndicatorParams `mapstructure:"indicators"`
	Refresh    RefreshConfig   `mapstructure:"refresh"`
	Alert      AlertConfig     `mapstructure:"alert"`
	Server     ServerConfig    `mapstructure:"server"`
	Directory  DirectoryConfig `mapstructure:"directory"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	FilePath   string `mapstructure:"file_path"`   // 日志输出路径名
	MaxSize    int    `mapstructure:"max_size"`    // 日志文件大小 单位：MB，超限后会自动切割
	MaxAge     int    `mapstructure:"max_age"`     // 日志文件存放时间 单位：天
	MaxBackups int    `mapstructure:"max_backups"` // 日志文件备份数量
	Compress   bool   `mapstructure:"compress"`    // 日志文件压缩
}

// RedisConfig Redis配置
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"` // 行情缓存有效期
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
}

// MySQLConfig MySQL配置
type MySQLConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// ProviderConfig 行情数据源配置
type ProviderConfig struct {
	KlineURL     string `mapstructure:"kline_url"`     // 历史K线接口
	StockListURL string `mapstructure:"stock_list_url"` // A股列表接口
	Retries      int    `mapstructure:"retries"`
}

// NetworkConfig 网络配置
type NetworkConfig struct {
	Proxy   string        `mapstructure:"proxy"`   // HTTP代理地址，如 http://127.0.0.1:7890
	Timeout time.Duration `mapstructure:"timeout"` // 网络超时时间
}

// RefreshConfig 定时刷新配置
type RefreshConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Symbols      []string `mapstructure:"symbols"`
	Cron         string   `mapstructure:"cron"`          // 秒级 cron 表达式
	Timezone     string   `mapstructure:"timezone"`      // 默认 Asia/Shanghai
	LookbackDays int      `mapstructure:"lookback_days"` // 拉取多少自然日的历史数据
	Adjust       string   `mapstructure:"adjust"`        // qfq / hfq / 空
	Workers      int      `mapstructure:"workers"`
	RunOnStart   bool     `mapstructure:"run_on_start"` // 启动后立即刷新一次
}

// AlertConfig 信号推送配置
type AlertConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DingTalkWebhook string        `mapstructure:"dingtalk_webhook"`
	DingTalkSecret  string        `mapstructure:"dingtalk_secret"`
	Cooldown        time.Duration `mapstructure:"cooldown"` // 同一股票重复推送的最小间隔
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	Mode         string   `mapstructure:"mode"` // gin 运行模式
}

// DirectoryConfig 股票列表配置
type DirectoryConfig struct {
	FilePath    string `mapstructure:"file_path"`    // 本地股票列表缓存文件
	RefreshCron string `mapstructure:"refresh_cron"` // 列表刷新 cron
}
