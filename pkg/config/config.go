package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ashare-kline-board/pkg/types"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load 加载配置
func Load() (*types.Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// 设置默认值
	setDefaults(v)

	// 读取环境变量，log.level -> LOG_LEVEL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 优先尝试读取本地配置文件
	v.SetConfigName("config.local")
	if err := v.ReadInConfig(); err != nil {
		// 如果本地配置文件不存在，尝试读取默认配置文件
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			var configFileNotFoundError viper.ConfigFileNotFoundError
			if !errors.As(err, &configFileNotFoundError) {
				return nil, err
			}
		}
	}

	var config types.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验配置
func Validate(c *types.Config) error {
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	if !types.ValidAdjust(c.Refresh.Adjust) {
		return fmt.Errorf("refresh.adjust: unsupported value %q", c.Refresh.Adjust)
	}
	if c.Refresh.Enabled {
		if len(c.Refresh.Symbols) == 0 {
			return errors.New("refresh.symbols is required when refresh is enabled")
		}
		if c.Refresh.Cron == "" {
			return errors.New("refresh.cron is required when refresh is enabled")
		}
	}
	if c.Refresh.Workers <= 0 {
		return errors.New("refresh.workers must be positive")
	}
	if c.Database.MySQL.Enabled && c.Database.MySQL.Host == "" {
		return errors.New("database.mysql.host is required when mysql is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_path", "logs")
	v.SetDefault("log.max_size", 200)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.compress", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("database.mysql.enabled", false)
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.max_idle_conns", 5)
	v.SetDefault("database.mysql.max_open_conns", 20)

	v.SetDefault("provider.kline_url", "https://push2his.eastmoney.com/api/qt/stock/kline/get")
	v.SetDefault("provider.stock_list_url", "https://82.push2.eastmoney.com/api/qt/clist/get")
	v.SetDefault("provider.retries", 3)

	v.SetDefault("network.proxy", "")
	v.SetDefault("network.timeout", 30*time.Second)

	d := types.DefaultIndicatorParams()
	v.SetDefault("indicators.ma_windows", d.MAWindows)
	v.SetDefault("indicators.ema_spans", d.EMASpans)
	v.SetDefault("indicators.macd.fast", d.MACD.Fast)
	v.SetDefault("indicators.macd.slow", d.MACD.Slow)
	v.SetDefault("indicators.macd.signal", d.MACD.Signal)
	v.SetDefault("indicators.kdj.n", d.KDJ.N)
	v.SetDefault("indicators.kdj.m1", d.KDJ.M1)
	v.SetDefault("indicators.kdj.m2", d.KDJ.M2)
	v.SetDefault("indicators.rsi.period", d.RSI.Period)
	v.SetDefault("indicators.boll.period", d.BOLL.Period)
	v.SetDefault("indicators.boll.std_multiplier", d.BOLL.StdMultiplier)
	v.SetDefault("indicators.atr.period", d.ATR.Period)

	v.SetDefault("refresh.enabled", false)
	v.SetDefault("refresh.symbols", []string{})
	v.SetDefault("refresh.cron", "0 30 15 * * 1-5") // 收盘后
	v.SetDefault("refresh.timezone", "Asia/Shanghai")
	v.SetDefault("refresh.lookback_days", 365)
	v.SetDefault("refresh.adjust", types.AdjustQFQ)
	v.SetDefault("refresh.workers", 5)
	v.SetDefault("refresh.run_on_start", false)

	v.SetDefault("alert.enabled", false)
	v.SetDefault("alert.dingtalk_webhook", "")
	v.SetDefault("alert.dingtalk_secret", "")
	v.SetDefault("alert.cooldown", 12*time.Hour)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allow_origins", []string{"http://localhost:8501"})
	v.SetDefault("server.mode", "release")

	v.SetDefault("directory.file_path", "data/stock_list.json")
	v.SetDefault("directory.refresh_cron", "0 0 9 * * 1") // 每周一开盘前
}
