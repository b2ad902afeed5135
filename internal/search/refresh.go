package search

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"ashare-kline-board/pkg/types"

	"go.uber.org/zap"
)

// ListSource 远程股票列表
type ListSource interface {
	FetchStockList(ctx context.Context) ([]types.StockInfo, error)
}

// ListStore 股票列表持久化，可为 nil
type ListStore interface {
	SaveStocks(ctx context.Context, stocks []types.StockInfo) error
	ListStocks(ctx context.Context) ([]types.StockInfo, error)
}

// Refresher 维护目录：本地文件 -> 数据库 -> 远程接口
type Refresher struct {
	directory *Directory
	source    ListSource
	store     ListStore
	path      string
	now       func() time.Time
}

// NewRefresher 创建目录刷新器
func NewRefresher(directory *Directory, source ListSource, store ListStore, path string) *Refresher {
	return &Refresher{
		directory: directory,
		source:    source,
		store:     store,
		path:      path,
		now:       time.Now,
	}
}

// Refresh 从远程拉取完整列表并替换目录
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	stocks, err := r.source.FetchStockList(ctx)
	if err != nil {
		return 0, err
	}
	r.directory.Replace(stocks, r.now())

	if r.path != "" {
		if err := r.directory.SaveFile(r.path); err != nil {
			zap.L().Warn("保存股票列表文件失败", zap.String("path", r.path), zap.Error(err))
		}
	}
	if r.store != nil {
		if err := r.store.SaveStocks(ctx, stocks); err != nil {
			zap.L().Warn("保存股票列表到数据库失败", zap.Error(err))
		}
	}

	zap.L().Info("✅ 股票列表已更新", zap.Int("count", len(stocks)))
	return len(stocks), nil
}

// Bootstrap 启动时加载目录，本地文件与数据库都没有数据时才请求远程
func (r *Refresher) Bootstrap(ctx context.Context) error {
	if r.path != "" {
		err := r.directory.LoadFile(r.path)
		if err == nil && r.directory.Len() > 0 {
			zap.L().Info("📂 已加载本地股票列表",
				zap.Int("count", r.directory.Len()),
				zap.Time("update_time", r.directory.UpdateTime()))
			return nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			zap.L().Warn("读取股票列表文件失败", zap.String("path", r.path), zap.Error(err))
		}
	}

	if r.store != nil {
		stocks, err := r.store.ListStocks(ctx)
		if err != nil {
			zap.L().Warn("从数据库读取股票列表失败", zap.Error(err))
		} else if len(stocks) > 0 {
			r.directory.Replace(stocks, r.now())
			zap.L().Info("📂 已从数据库加载股票列表", zap.Int("count", len(stocks)))
			return nil
		}
	}

	_, err := r.Refresh(ctx)
	return err
}
