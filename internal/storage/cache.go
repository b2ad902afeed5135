package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"ashare-kline-board/internal/metrics"
	"ashare-kline-board/pkg/types"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss 缓存中没有对应数据或已过期
var ErrCacheMiss = errors.New("cache miss")

const (
	keyPrefix = "kline:"
	// 内存条目超过该数量时清理过期数据
	memoryPurgeThreshold = 1024
	// 内存条目上限，清理后仍超出时淘汰最早过期的条目
	memoryMaxEntries = 4096
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache K线与指标缓存：内存为一级，Redis 可用时为二级
type Cache struct {
	ttl         time.Duration
	redisClient *redis.Client
	useRedis    bool
	metrics     *metrics.Metrics

	memory     map[string]memoryEntry
	maxEntries int
	mutex      sync.RWMutex
	now    func() time.Time
}

// NewCache 创建缓存，Redis 未配置或连接失败时使用纯内存模式
func NewCache(redisConfig types.RedisConfig, m *metrics.Metrics) *Cache {
	ttl := redisConfig.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Cache{
		ttl:     ttl,
		metrics: m,
		memory:     make(map[string]memoryEntry),
		maxEntries: memoryMaxEntries,
		now:        time.Now,
	}

	if redisConfig.URL == "" {
		zap.L().Info("🔧 未配置Redis，使用纯内存缓存")
		return c
	}

	c.redisClient = redis.NewClient(&redis.Options{
		Addr:     redisConfig.URL,
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.redisClient.Ping(ctx).Err(); err != nil {
		zap.L().Warn("⚠️ Redis连接失败，使用纯内存缓存", zap.Error(err))
		_ = c.redisClient.Close()
		c.redisClient = nil
		return c
	}

	zap.L().Info("✅ Redis连接成功", zap.String("addr", redisConfig.URL))
	c.useRedis = true
	return c
}

// BarsKey K线缓存键
func BarsKey(req types.BarRequest) string {
	adjust := req.Adjust
	if adjust == types.AdjustNone {
		adjust = "none"
	}
	return fmt.Sprintf("%sbars:%s:%s:%s:%s", keyPrefix, req.Symbol,
		req.Start.Format("20060102"), req.End.Format("20060102"), adjust)
}

// ParamsHash 指标参数指纹的 FNV-64a 摘要
func ParamsHash(params types.IndicatorParams) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(params.Fingerprint()))
	return fmt.Sprintf("%x", h.Sum64())
}

// IndicatorKey 指标缓存键，由K线键与参数指纹组成
func IndicatorKey(req types.BarRequest, params types.IndicatorParams) string {
	return fmt.Sprintf("%sind:%s:%s", keyPrefix, BarsKey(req)[len(keyPrefix):], ParamsHash(params))
}

// GetBars 读取缓存的K线
func (c *Cache) GetBars(ctx context.Context, req types.BarRequest) ([]types.PriceBar, error) {
	var bars []types.PriceBar
	err := c.getJSON(ctx, BarsKey(req), &bars)
	c.metrics.ObserveCache("bars", err == nil)
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// SetBars 缓存K线
func (c *Cache) SetBars(ctx context.Context, req types.BarRequest, bars []types.PriceBar) error {
	return c.setJSON(ctx, BarsKey(req), bars)
}

// GetIndicators 读取缓存的指标
func (c *Cache) GetIndicators(ctx context.Context, req types.BarRequest, params types.IndicatorParams) (types.IndicatorSet, error) {
	var set types.IndicatorSet
	err := c.getJSON(ctx, IndicatorKey(req, params), &set)
	c.metrics.ObserveCache("indicators", err == nil)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// SetIndicators 缓存指标
func (c *Cache) SetIndicators(ctx context.Context, req types.BarRequest, params types.IndicatorParams, set types.IndicatorSet) error {
	return c.setJSON(ctx, IndicatorKey(req, params), set)
}

func (c *Cache) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := c.get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		zap.L().Warn("缓存数据损坏，忽略", zap.String("key", key), zap.Error(err))
		c.delete(ctx, key)
		return ErrCacheMiss
	}
	return nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化缓存数据失败: %w", err)
	}
	c.set(ctx, key, data)
	return nil
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, error) {
	c.mutex.RLock()
	entry, ok := c.memory[key]
	c.mutex.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	if !c.useRedis {
		return nil, ErrCacheMiss
	}

	data, err := c.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("Redis读取失败", zap.String("key", key), zap.Error(err))
		}
		return nil, ErrCacheMiss
	}

	// 回填内存，过期时间与 Redis 剩余 TTL 对齐
	ttl := c.ttl
	if remaining, err := c.redisClient.TTL(ctx, key).Result(); err == nil && remaining > 0 {
		ttl = remaining
	}
	c.setMemory(key, data, ttl)
	return data, nil
}

func (c *Cache) set(ctx context.Context, key string, data []byte) {
	c.setMemory(key, data, c.ttl)

	if !c.useRedis {
		return
	}
	if err := c.redisClient.Set(ctx, key, data, c.ttl).Err(); err != nil {
		zap.L().Warn("Redis写入失败", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) setMemory(key string, data []byte, ttl time.Duration) {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.memory[key] = memoryEntry{value: data, expiresAt: now.Add(ttl)}
	if len(c.memory) > memoryPurgeThreshold || len(c.memory) > c.maxEntries {
		for k, e := range c.memory {
			if !now.Before(e.expiresAt) {
				delete(c.memory, k)
			}
		}
	}
	if len(c.memory) > c.maxEntries {
		c.evictOldest(len(c.memory) - c.maxEntries)
	}
}

// evictOldest 淘汰 n 个最早过期的条目，调用方持有写锁
func (c *Cache) evictOldest(n int) {
	keys := make([]string, 0, len(c.memory))
	for k := range c.memory {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.memory[keys[i]].expiresAt.Before(c.memory[keys[j]].expiresAt)
	})
	for _, k := range keys[:n] {
		delete(c.memory, k)
	}
}

func (c *Cache) delete(ctx context.Context, key string) {
	c.mutex.Lock()
	delete(c.memory, key)
	c.mutex.Unlock()

	if c.useRedis {
		c.redisClient.Del(ctx, key)
	}
}

// Stats 缓存统计信息
func (c *Cache) Stats(ctx context.Context) map[string]interface{} {
	c.mutex.RLock()
	stats := map[string]interface{}{
		"redis_enabled":  c.useRedis,
		"memory_entries": len(c.memory),
		"ttl":            c.ttl.String(),
	}
	c.mutex.RUnlock()

	if c.useRedis {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		var count int
		iter := c.redisClient.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
		for iter.Next(ctx) {
			count++
		}
		if err := iter.Err(); err != nil {
			stats["redis_error"] = err.Error()
		} else {
			stats["redis_keys"] = count
		}
	}
	return stats
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	if c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}
