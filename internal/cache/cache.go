// 包 cache：定位结果的进程内 LRU 缓存（TTL + 容量上限）
// 背景：同一会话内的多次定位请求大量重复，缓存最近一次结果以降低耗电与等待；可选写穿到持久层
// 约束：惰性过期是正确性保证，后台清扫仅为尽力而为的内存回收；所有变更在同一把锁内串行执行
package cache

import (
	"container/list"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"geofix/internal/locerr"
	"geofix/internal/logger"
	"geofix/internal/metrics"
	"geofix/internal/model"
)

// LastKnownKey：设备最近一次定位结果的规范键
const LastKnownKey = "last_known"

// StrategyKey：按策略分键时使用的键
func StrategyKey(s model.Strategy) string { return "strategy:" + s.String() }

// ErrMiss：缓存中不存在该键
var ErrMiss = errors.New("cache miss")

const (
	DefaultMaxSize       = 64
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Hour

	storeTimeout = 2 * time.Second
)

// Clock：时间源，测试中以虚拟时钟替换
type Clock interface{ Now() time.Time }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Entry：缓存项；仅缓存内部持有，外部拿到的都是副本
type Entry struct {
	Fix               model.LocationFix `json:"fix"`
	InsertedAtEpochMs int64             `json:"inserted_at_ms"`
}

// Store：持久层契约（Redis / PostgreSQL / 文件快照）
type Store interface {
	Save(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	LoadAll(ctx context.Context) (map[string]Entry, error)
}

// Options：构造参数；零值字段使用默认值
type Options struct {
	MaxSize       int
	TTL           time.Duration
	SweepInterval time.Duration
	Clock         Clock
	Store         Store
}

// Stats：缓存统计快照
type Stats struct {
	Size    int           `json:"size"`
	MaxSize int           `json:"max_size"`
	TTL     time.Duration `json:"ttl"`
}

type item struct {
	key   string
	entry Entry
}

// LRU：按访问顺序淘汰的 TTL 缓存
// 约束：锁顺序固定为 wmu → mu；持久层写入只在 wmu 内进行，与内存变更同序
type LRU struct {
	wmu   sync.Mutex
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	sweep time.Duration
	clock Clock
	store Store
	lst   *list.List
	dict  map[string]*list.Element

	sweepMu   sync.Mutex
	sweepStop context.CancelFunc
	sweepDone chan struct{}
}

func New(opts Options) *LRU {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	return &LRU{
		cap:   opts.MaxSize,
		ttl:   opts.TTL,
		sweep: opts.SweepInterval,
		clock: opts.Clock,
		store: opts.Store,
		lst:   list.New(),
		dict:  make(map[string]*list.Element),
	}
}

func (c *LRU) nowMs() int64 { return c.clock.Now().UnixMilli() }

func (c *LRU) expired(e Entry, nowMs int64) bool {
	return nowMs-e.InsertedAtEpochMs > c.ttl.Milliseconds()
}

// Get：读取未过期的缓存项；过期项在此处被移除并视为未命中
func (c *LRU) Get(key string) (model.LocationFix, bool) {
	fix, err := c.Lookup(key)
	return fix, err == nil
}

// Lookup：与 Get 相同，但区分“从未存在”（ErrMiss）与“存在但已过期”（CacheExpired）
func (c *LRU) Lookup(key string) (model.LocationFix, error) {
	c.mu.Lock()
	el, ok := c.dict[key]
	if !ok {
		c.mu.Unlock()
		metrics.CacheMissesTotal.Inc()
		return model.LocationFix{}, ErrMiss
	}
	it := el.Value.(*item)
	if c.expired(it.entry, c.nowMs()) {
		c.mu.Unlock()
		metrics.CacheMissesTotal.Inc()
		c.dropExpired(key)
		return model.LocationFix{}, locerr.New(locerr.CacheExpired, "cached fix for "+key+" is stale")
	}
	c.lst.MoveToFront(el)
	fix := it.entry.Fix
	c.mu.Unlock()
	metrics.CacheHitsTotal.Inc()
	return fix, nil
}

// dropExpired：移除仍处于过期状态的项；期间被重新写入的项保留
func (c *LRU) dropExpired(key string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.mu.Lock()
	el, ok := c.dict[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	it := el.Value.(*item)
	now := c.nowMs()
	if !c.expired(it.entry, now) {
		c.mu.Unlock()
		return
	}
	c.lst.Remove(el)
	delete(c.dict, key)
	c.mu.Unlock()
	metrics.CacheExpiredTotal.WithLabelValues("lazy").Inc()
	logger.L().Debug("cache_expired", "key", key, "age_ms", now-it.entry.InsertedAtEpochMs)
	c.storeDelete(key)
}

// Put：写入或覆盖；超出容量时淘汰最久未访问的项
func (c *LRU) Put(key string, fix model.LocationFix) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	e := Entry{Fix: fix, InsertedAtEpochMs: c.nowMs()}
	evicted := c.insert(key, e)
	for _, k := range evicted {
		c.storeDelete(k)
	}
	c.storeSave(key, e)
}

func (c *LRU) insert(key string, e Entry) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.dict[key]; ok {
		el.Value.(*item).entry = e
		c.lst.MoveToFront(el)
		return nil
	}
	c.dict[key] = c.lst.PushFront(&item{key: key, entry: e})
	var evicted []string
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		it := back.Value.(*item)
		c.lst.Remove(back)
		delete(c.dict, it.key)
		evicted = append(evicted, it.key)
		metrics.CacheEvictionsTotal.Inc()
		logger.L().Debug("cache_evict", "key", it.key)
	}
	return evicted
}

// Clear：清空缓存（含持久层）
func (c *LRU) Clear() {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.mu.Lock()
	c.lst.Init()
	c.dict = make(map[string]*list.Element)
	c.mu.Unlock()
	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := c.store.Clear(ctx); err != nil {
			metrics.CacheStoreErrorsTotal.WithLabelValues("clear").Inc()
			logger.L().Warn("cache_store_clear_error", "err", err)
		}
	}
}

func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: c.lst.Len(), MaxSize: c.cap, TTL: c.ttl}
}

// Keys：按最近访问顺序返回当前键（含尚未被惰性清理的过期项）
func (c *LRU) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, c.lst.Len())
	for el := c.lst.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*item).key)
	}
	return out
}

// Sweep：主动移除全部过期项，返回移除数量
func (c *LRU) Sweep() int {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	now := c.nowMs()
	var removed []string
	c.mu.Lock()
	for el := c.lst.Back(); el != nil; {
		prev := el.Prev()
		it := el.Value.(*item)
		if c.expired(it.entry, now) {
			c.lst.Remove(el)
			delete(c.dict, it.key)
			removed = append(removed, it.key)
		}
		el = prev
	}
	c.mu.Unlock()
	for _, k := range removed {
		metrics.CacheExpiredTotal.WithLabelValues("sweep").Inc()
		c.storeDelete(k)
	}
	if len(removed) > 0 {
		logger.L().Debug("cache_sweep", "removed", len(removed))
	}
	return len(removed)
}

// StartSweeper：启动后台清扫；重复调用无副作用
func (c *LRU) StartSweeper(ctx context.Context) {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.sweepStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.sweepStop = cancel
	c.sweepDone = done
	t := time.NewTicker(c.sweep)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Sweep()
			}
		}
	}()
}

// Close：停止后台清扫并等待其退出；可重复调用
func (c *LRU) Close() {
	c.sweepMu.Lock()
	stop, done := c.sweepStop, c.sweepDone
	c.sweepStop, c.sweepDone = nil, nil
	c.sweepMu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

// Restore：从持久层加载；加载时已过期的项视为不存在，超出容量时保留最新的项
func (c *LRU) Restore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	all, err := c.store.LoadAll(ctx)
	if err != nil {
		metrics.CacheStoreErrorsTotal.WithLabelValues("load").Inc()
		return 0, err
	}
	now := c.nowMs()
	items := make([]item, 0, len(all))
	for k, e := range all {
		if c.expired(e, now) {
			continue
		}
		items = append(items, item{key: k, entry: e})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].entry.InsertedAtEpochMs < items[j].entry.InsertedAtEpochMs })
	loaded := 0
	c.wmu.Lock()
	for _, it := range items {
		c.insert(it.key, it.entry)
		loaded++
	}
	c.wmu.Unlock()
	logger.L().Info("cache_restore", "loaded", loaded, "skipped", len(all)-len(items))
	return c.Stats().Size, nil
}

func (c *LRU) storeSave(key string, e Entry) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.Save(ctx, key, e); err != nil {
		metrics.CacheStoreErrorsTotal.WithLabelValues("save").Inc()
		logger.L().Warn("cache_store_save_error", "key", key, "err", err)
	}
}

func (c *LRU) storeDelete(key string) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, key); err != nil {
		metrics.CacheStoreErrorsTotal.WithLabelValues("delete").Inc()
		logger.L().Warn("cache_store_delete_error", "key", key, "err", err)
	}
}
