package search

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ashare-kline-board/pkg/types"
)

// Directory 本地股票代码目录，支持按代码前缀或名称搜索
type Directory struct {
	stocks     map[string]string // code -> name
	updateTime time.Time
	mutex      sync.RWMutex
}

// directoryFile 本地缓存文件格式
type directoryFile struct {
	Stocks     map[string]string `json:"stocks"`
	UpdateTime float64           `json:"update_time"` // unix 秒，可带小数
}

// NewDirectory 创建空目录
func NewDirectory() *Directory {
	return &Directory{stocks: make(map[string]string)}
}

// Replace 用新的股票列表整体替换目录
func (d *Directory) Replace(stocks []types.StockInfo, updated time.Time) {
	m := make(map[string]string, len(stocks))
	for _, s := range stocks {
		m[s.Code] = s.Name
	}

	d.mutex.Lock()
	d.stocks = m
	d.updateTime = updated
	d.mutex.Unlock()
}

// Len 股票数量
func (d *Directory) Len() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.stocks)
}

// UpdateTime 最近一次更新时间
func (d *Directory) UpdateTime() time.Time {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.updateTime
}

// Name 按代码查名称
func (d *Directory) Name(code string) (string, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	name, ok := d.stocks[code]
	return name, ok
}

// All 全部股票，按代码排序
func (d *Directory) All() []types.StockInfo {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	out := make([]types.StockInfo, 0, len(d.stocks))
	for code, name := range d.stocks {
		out = append(out, types.StockInfo{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Search 代码前缀或名称包含 query 的股票，代码完全匹配的排在最前，其余按代码排序
// limit <= 0 表示不限制数量
func (d *Directory) Search(query string, limit int) []types.StockInfo {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	upper := strings.ToUpper(query)

	d.mutex.RLock()
	var exact *types.StockInfo
	var matches []types.StockInfo
	for code, name := range d.stocks {
		switch {
		case code == query:
			exact = &types.StockInfo{Code: code, Name: name}
		case strings.HasPrefix(code, query), strings.Contains(strings.ToUpper(name), upper):
			matches = append(matches, types.StockInfo{Code: code, Name: name})
		}
	}
	d.mutex.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Code < matches[j].Code })
	if exact != nil {
		matches = append([]types.StockInfo{*exact}, matches...)
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// LoadFile 从 JSON 文件加载目录
func (d *Directory) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f directoryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("解析股票列表文件失败: %w", err)
	}

	stocks := make([]types.StockInfo, 0, len(f.Stocks))
	for code, name := range f.Stocks {
		stocks = append(stocks, types.StockInfo{Code: code, Name: name})
	}
	sec := int64(f.UpdateTime)
	nsec := int64((f.UpdateTime - float64(sec)) * 1e9)
	d.Replace(stocks, time.Unix(sec, nsec))
	return nil
}

// SaveFile 写入 JSON 文件，先写临时文件再重命名
func (d *Directory) SaveFile(path string) error {
	d.mutex.RLock()
	f := directoryFile{
		Stocks:     make(map[string]string, len(d.stocks)),
		UpdateTime: float64(d.updateTime.UnixNano()) / 1e9,
	}
	for code, name := range d.stocks {
		f.Stocks[code] = name
	}
	d.mutex.RUnlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
