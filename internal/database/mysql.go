package database

import (
	"context"
	"fmt"
	"time"

	"ashare-kline-board/pkg/types"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const batchSize = 100

// Manager 数据库管理器
type Manager struct {
	db     *gorm.DB
	config types.MySQLConfig
}

// DailyBar 日线模型，同一股票同一复权方式每日一条
type DailyBar struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"type:varchar(10);not null;uniqueIndex:uk_symbol_date_adjust" json:"symbol"`
	TradeDate time.Time `gorm:"type:date;not null;uniqueIndex:uk_symbol_date_adjust" json:"trade_date"`
	Adjust    string    `gorm:"type:varchar(4);not null;default:'';uniqueIndex:uk_symbol_date_adjust" json:"adjust"`
	Open      float64   `gorm:"type:decimal(12,4);not null" json:"open"`
	High      float64   `gorm:"type:decimal(12,4);not null" json:"high"`
	Low       float64   `gorm:"type:decimal(12,4);not null" json:"low"`
	Close     float64   `gorm:"type:decimal(12,4);not null" json:"close"`
	Volume    float64   `gorm:"type:decimal(20,2);not null" json:"volume"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IndicatorSnapshot 某交易日各指标的最新值
type IndicatorSnapshot struct {
	ID         uint               `gorm:"primaryKey" json:"id"`
	Symbol     string             `gorm:"type:varchar(10);not null;uniqueIndex:uk_symbol_date_params" json:"symbol"`
	TradeDate  time.Time          `gorm:"type:date;not null;uniqueIndex:uk_symbol_date_params" json:"trade_date"`
	ParamsHash string             `gorm:"type:varchar(128);not null;uniqueIndex:uk_symbol_date_params" json:"params_hash"`
	Close      float64            `gorm:"type:decimal(12,4);not null" json:"close"`
	Values     map[string]float64 `gorm:"column:indicator_values;type:json;serializer:json" json:"values"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Stock 股票代码表
type Stock struct {
	Code      string    `gorm:"type:varchar(10);primaryKey" json:"code"`
	Name      string    `gorm:"type:varchar(64);not null" json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SignalRecord 技术信号记录
type SignalRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Symbol      string    `gorm:"type:varchar(10);not null;index:idx_symbol_date" json:"symbol"`
	TradeDate   time.Time `gorm:"type:date;not null;index:idx_symbol_date" json:"trade_date"`
	SignalType  string    `gorm:"type:varchar(32);not null" json:"signal_type"`
	Bias        string    `gorm:"type:varchar(10);not null" json:"bias"`
	Description string    `gorm:"type:varchar(255)" json:"description"`
	Value       float64   `gorm:"type:decimal(20,4)" json:"value"`
	Close       float64   `gorm:"type:decimal(12,4)" json:"close"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewManager 创建数据库管理器
func NewManager(config types.MySQLConfig) (*Manager, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库实例失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	manager := &Manager{db: db, config: config}
	if err := manager.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	zap.L().Info("✅ MySQL数据库连接成功",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database))

	return manager, nil
}

// AutoMigrate 自动迁移表结构
func (m *Manager) AutoMigrate() error {
	return m.db.AutoMigrate(
		&DailyBar{},
		&IndicatorSnapshot{},
		&Stock{},
		&SignalRecord{},
	)
}

// toDailyBars PriceBar 转数据库模型
func toDailyBars(symbol, adjust string, bars []types.PriceBar) []DailyBar {
	rows := make([]DailyBar, len(bars))
	for i, b := range bars {
		rows[i] = DailyBar{
			Symbol:    symbol,
			TradeDate: b.Date,
			Adjust:    adjust,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return rows
}

// upsertBars 按 (symbol, trade_date, adjust) 插入或更新
func upsertBars(tx *gorm.DB, rows []DailyBar) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "trade_date"}, {Name: "adjust"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "updated_at"}),
	}).Create(&rows)
}

// SaveBars 批量保存日线，已存在的交易日覆盖更新
func (m *Manager) SaveBars(ctx context.Context, symbol, adjust string, bars []types.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := toDailyBars(symbol, adjust, bars)

	// 分批处理避免单条语句过大
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(rows); i += batchSize {
			end := i + batchSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := upsertBars(tx, rows[i:end]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("批量保存K线数据失败: %w", err)
	}

	zap.L().Debug("✅ 批量保存K线数据完成",
		zap.String("symbol", symbol),
		zap.Int("count", len(bars)))
	return nil
}

// GetBars 查询 [start, end] 区间的日线，按日期升序
func (m *Manager) GetBars(ctx context.Context, symbol, adjust string, start, end time.Time) ([]types.PriceBar, error) {
	var rows []DailyBar
	err := m.db.WithContext(ctx).
		Where("symbol = ? AND adjust = ? AND trade_date BETWEEN ? AND ?", symbol, adjust, start, end).
		Order("trade_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	bars := make([]types.PriceBar, len(rows))
	for i, r := range rows {
		bars[i] = types.PriceBar{
			Date:   r.TradeDate,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return bars, nil
}

// SaveSnapshot 保存分析结果中的最新指标值
func (m *Manager) SaveSnapshot(ctx context.Context, result *types.AnalysisResult, paramsHash string) error {
	snapshot := IndicatorSnapshot{
		Symbol:     result.Symbol,
		TradeDate:  result.Date,
		ParamsHash: paramsHash,
		Values:     result.Latest,
	}
	if result.Summary != nil {
		snapshot.Close = result.Summary.Close
	}

	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "trade_date"}, {Name: "params_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"close", "indicator_values", "updated_at"}),
	}).Create(&snapshot).Error
}

// SaveStocks 保存股票列表
func (m *Manager) SaveStocks(ctx context.Context, stocks []types.StockInfo) error {
	if len(stocks) == 0 {
		return nil
	}
	rows := make([]Stock, len(stocks))
	for i, s := range stocks {
		rows[i] = Stock{Code: s.Code, Name: s.Name}
	}

	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}).CreateInBatches(rows, batchSize).Error
}

// ListStocks 全部股票，按代码排序
func (m *Manager) ListStocks(ctx context.Context) ([]types.StockInfo, error) {
	var rows []Stock
	if err := m.db.WithContext(ctx).Order("code ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	stocks := make([]types.StockInfo, len(rows))
	for i, r := range rows {
		stocks[i] = types.StockInfo{Code: r.Code, Name: r.Name}
	}
	return stocks, nil
}

// toSignalRecords 信号提醒转数据库模型
func toSignalRecords(alert types.SignalAlert) []SignalRecord {
	records := make([]SignalRecord, len(alert.Signals))
	for i, s := range alert.Signals {
		records[i] = SignalRecord{
			Symbol:      alert.Symbol,
			TradeDate:   alert.Date,
			SignalType:  s.Type,
			Bias:        s.Bias,
			Description: s.Desc,
			Value:       s.Value,
			Close:       alert.Close,
		}
	}
	return records
}

// SaveSignal 保存一次提醒中的全部信号
func (m *Manager) SaveSignal(ctx context.Context, alert types.SignalAlert) error {
	records := toSignalRecords(alert)
	if len(records) == 0 {
		return nil
	}
	return m.db.WithContext(ctx).Create(&records).Error
}

// GetSignals 查询最近的信号记录
func (m *Manager) GetSignals(ctx context.Context, symbol string, limit int) ([]SignalRecord, error) {
	var records []SignalRecord
	err := m.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("trade_date DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Close 关闭数据库连接
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接健康状态
func (m *Manager) Health(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
