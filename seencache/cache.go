package seencache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dxos-deprecated/broadcast/errors"
)

// Default limits. MaxAge matches the window a packet could reasonably
// still be in transit through the peer graph.
const (
	DefaultMaxSize = 1000
	DefaultMaxAge  = 10 * time.Second
)

// Config bounds the cache by count and by age.
type Config struct {
	// MaxSize is the entry cap; inserting beyond it evicts the
	// least-recently-touched token.
	MaxSize int

	// MaxAge is how long an entry survives after its last touch.
	MaxAge time.Duration

	// CleanupInterval is how often the background sweep removes expired
	// entries. Defaults to MaxAge/2.
	CleanupInterval time.Duration
}

// DefaultConfig returns the default cache bounds.
func DefaultConfig() Config {
	return Config{
		MaxSize: DefaultMaxSize,
		MaxAge:  DefaultMaxAge,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "seencache", "Validate",
			fmt.Sprintf("max_size must be positive, got %d", c.MaxSize))
	}
	if c.MaxAge <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "seencache", "Validate",
			fmt.Sprintf("max_age must be positive, got %v", c.MaxAge))
	}
	if c.CleanupInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "seencache", "Validate",
			fmt.Sprintf("cleanup_interval cannot be negative, got %v", c.CleanupInterval))
	}
	return nil
}

// entry is a token with its current expiry deadline.
type entry struct {
	token     string
	expiresAt time.Time
}

func (e *entry) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a bounded set of dedup tokens with combined LRU and TTL
// eviction. Every touch (Has hit or re-Add) refreshes both the expiry
// deadline and the LRU position. Safe for concurrent use; the background
// sweep and callers mutate the same arena under one lock, so a sweep
// racing a deletion is a no-op rather than an error.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	maxAge  time.Duration
	items   map[string]*list.Element
	order   *list.List // front = most recently touched
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback

	cleanupInterval time.Duration
	shutdown        chan struct{}
	done            chan struct{}
	closeOnce       sync.Once
}

// New creates a Cache and starts its background sweep. The context bounds
// the sweep goroutine's lifetime; Close does too.
func New(ctx context.Context, cfg Config, options ...Option) (*Cache, error) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = cfg.MaxAge / 2
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "seencache", "New", "metrics registration")
		}
	}

	c := &Cache{
		maxSize:         cfg.MaxSize,
		maxAge:          cfg.MaxAge,
		items:           make(map[string]*list.Element),
		order:           list.New(),
		stats:           NewStatistics(),
		metrics:         metrics,
		evictFn:         opts.evictCallback,
		cleanupInterval: cfg.CleanupInterval,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}

	go c.cleanup(ctx)

	return c, nil
}

// Add records the token. Returns true if the token was not already live -
// an atomic check-and-set, so two concurrent Adds of the same token see
// exactly one true. Re-adding a live token refreshes its expiry and LRU
// position.
func (c *Cache) Add(token string) bool {
	now := time.Now()
	var evicted []string

	c.mu.Lock()

	if element, exists := c.items[token]; exists {
		e := element.Value.(*entry)
		if !e.isExpired(now) {
			// Touch: reset deadline and LRU position.
			e.expiresAt = now.Add(c.maxAge)
			c.order.MoveToFront(element)
			c.stats.Touch()
			if c.metrics != nil {
				c.metrics.recordTouch()
			}
			c.mu.Unlock()
			return false
		}
		// Expired but not yet swept: replace as if new.
		c.removeElement(element)
		c.stats.Expiration()
		if c.metrics != nil {
			c.metrics.recordExpiration()
		}
	}

	e := &entry{token: token, expiresAt: now.Add(c.maxAge)}
	c.items[token] = c.order.PushFront(e)

	for len(c.items) > c.maxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry)
		c.removeElement(back)
		evicted = append(evicted, victim.token)
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}

	c.stats.Add()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.recordAdd()
		c.metrics.updateSize(len(c.items))
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, token := range evicted {
			c.evictFn(token)
		}
	}
	return true
}

// Has reports whether the token is live. A hit is a touch: it refreshes
// the entry's expiry deadline and LRU position.
func (c *Cache) Has(token string) bool {
	now := time.Now()

	c.mu.Lock()

	element, exists := c.items[token]
	if !exists {
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		c.mu.Unlock()
		return false
	}

	e := element.Value.(*entry)
	if e.isExpired(now) {
		c.removeElement(element)
		c.stats.Expiration()
		c.stats.Miss()
		c.stats.UpdateSize(int64(len(c.items)))
		if c.metrics != nil {
			c.metrics.recordExpiration()
			c.metrics.recordMiss()
			c.metrics.updateSize(len(c.items))
		}
		c.mu.Unlock()
		if c.evictFn != nil {
			c.evictFn(e.token)
		}
		return false
	}

	e.expiresAt = now.Add(c.maxAge)
	c.order.MoveToFront(element)
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	c.mu.Unlock()
	return true
}

// Delete removes a token. Returns true if it existed and was live.
func (c *Cache) Delete(token string) bool {
	now := time.Now()

	c.mu.Lock()
	element, exists := c.items[token]
	if !exists {
		c.mu.Unlock()
		return false
	}

	e := element.Value.(*entry)
	expired := e.isExpired(now)
	c.removeElement(element)
	c.stats.Delete()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.recordDelete()
		c.metrics.updateSize(len(c.items))
	}
	c.mu.Unlock()

	return !expired
}

// Clear removes all entries. The background sweep stays running; a sweep
// firing after Clear finds nothing to do.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	c.mu.Unlock()
}

// Size returns the current number of live entries. Entries past their
// deadline but not yet swept are excluded.
func (c *Cache) Size() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	size := 0
	for element := c.order.Front(); element != nil; element = element.Next() {
		if !element.Value.(*entry).isExpired(now) {
			size++
		}
	}
	return size
}

// Tokens returns a snapshot of live tokens in LRU order, least recently
// touched first. Each call takes a fresh snapshot.
func (c *Cache) Tokens() []string {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	tokens := make([]string, 0, len(c.items))
	for element := c.order.Back(); element != nil; element = element.Prev() {
		e := element.Value.(*entry)
		if !e.isExpired(now) {
			tokens = append(tokens, e.token)
		}
	}
	return tokens
}

// UpdateConfig replaces the cache bounds. The new values apply to
// subsequent operations: existing entries keep their current deadline
// until re-touched, and a smaller MaxSize takes effect on the next Add.
func (c *Cache) UpdateConfig(maxSize int, maxAge time.Duration) error {
	if maxSize <= 0 || maxAge <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "seencache", "UpdateConfig",
			fmt.Sprintf("max_size=%d max_age=%v", maxSize, maxAge))
	}

	c.mu.Lock()
	c.maxSize = maxSize
	c.maxAge = maxAge
	c.mu.Unlock()
	return nil
}

// Stats returns the cache statistics.
func (c *Cache) Stats() *Statistics {
	return c.stats
}

// Close stops the background sweep goroutine.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		close(c.shutdown)
	})

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.WrapTransient(
			fmt.Errorf("timeout waiting for cleanup goroutine"),
			"seencache", "Close", "stop background sweep")
	}
}

// removeElement removes an element from both the list and the map.
// Caller must hold the mutex.
func (c *Cache) removeElement(element *list.Element) {
	e := element.Value.(*entry)
	delete(c.items, e.token)
	c.order.Remove(element)
}

// cleanup periodically sweeps expired entries.
func (c *Cache) cleanup(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired deletes every entry past its deadline.
func (c *Cache) removeExpired() {
	now := time.Now()
	var expired []string

	c.mu.Lock()
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		e := element.Value.(*entry)
		if e.isExpired(now) {
			expired = append(expired, e.token)
			c.removeElement(element)
			c.stats.Expiration()
			if c.metrics != nil {
				c.metrics.recordExpiration()
			}
		}
		element = next
	}
	if len(expired) > 0 {
		c.stats.UpdateSize(int64(len(c.items)))
		if c.metrics != nil {
			c.metrics.updateSize(len(c.items))
		}
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, token := range expired {
			c.evictFn(token)
		}
	}
}
