package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/applock/credstore"
	"github.com/MrEthical07/applock/internal/clock"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrOffline is returned when the cache is offline and holds no value for the key.
	ErrOffline = errors.New("offline and no cached data")
	// ErrCleared is returned when Clear ran while the fetch was in flight.
	ErrCleared = errors.New("cache cleared during fetch")
)

// Fetcher loads the value for one key.
type Fetcher func(ctx context.Context) ([]byte, error)

// Result is a served value.
type Result struct {
	Data      []byte
	FetchedAt time.Time
	// Stale is set when Data was served from cache past StaleTime, or
	// because the network was unavailable.
	Stale bool
	// Err carries the fetch failure that caused a stale fallback.
	Err error
}

// Config holds cache timings.
type Config struct {
	StaleTime time.Duration
	MaxAge    time.Duration
	Retries   uint64
	// RetryInterval is the initial backoff between attempts.
	RetryInterval time.Duration
	// PersistKey is the store key holding the persisted snapshot.
	PersistKey string
}

// DefaultConfig returns 5m freshness, 24h persistence and one retry.
func DefaultConfig() Config {
	return Config{
		StaleTime:     5 * time.Minute,
		MaxAge:        24 * time.Hour,
		Retries:       1,
		RetryInterval: time.Second,
		PersistKey:    "querycache.snapshot",
	}
}

type entry struct {
	data      []byte
	fetchedAt time.Time
}

// Option customises a Cache.
type Option func(*Cache)

// WithStore enables persistence through s.
func WithStore(s credstore.Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithClock replaces the wall clock.
func WithClock(cl clock.Clock) Option {
	return func(c *Cache) {
		if cl != nil {
			c.clock = cl
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg   Config
	store credstore.Store
	clock clock.Clock
	log   *zap.Logger

	online atomic.Bool
	group  singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
	epoch   uint64
}

// New creates an online Cache.
func New(cfg Config, opts ...Option) *Cache {
	def := DefaultConfig()
	if cfg.StaleTime < 0 {
		cfg.StaleTime = 0
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.PersistKey == "" {
		cfg.PersistKey = def.PersistKey
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	c := &Cache{
		cfg:     cfg,
		clock:   clock.Real(),
		log:     zap.NewNop(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.online.Store(true)
	return c
}

// SetOnline sets the global online flag. It implements netstatus.OnlineSetter.
func (c *Cache) SetOnline(online bool) {
	if c.online.Swap(online) != online {
		c.log.Debug("query cache online flag changed", zap.Bool("online", online))
	}
}

// Online reports the global online flag.
func (c *Cache) Online() bool {
	return c.online.Load()
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Fetch serves key, calling fetcher when the cached value is missing or
// stale and the cache is online. Concurrent fetches of one key share a
// single fetcher call.
func (c *Cache) Fetch(ctx context.Context, key string, fetcher Fetcher) (Result, error) {
	now := c.clock.Now()
	c.mu.RLock()
	cached, hit := c.entries[key]
	epoch := c.epoch
	c.mu.RUnlock()

	if hit && now.Sub(cached.fetchedAt) < c.cfg.StaleTime {
		return Result{Data: cached.data, FetchedAt: cached.fetchedAt}, nil
	}
	if !c.Online() {
		if hit {
			return Result{Data: cached.data, FetchedAt: cached.fetchedAt, Stale: true, Err: ErrOffline}, nil
		}
		return Result{}, ErrOffline
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.fetchWithRetry(ctx, key, fetcher)
	})
	if err != nil {
		if hit {
			c.log.Debug("serving stale query data", zap.String("key", key), zap.Error(err))
			return Result{Data: cached.data, FetchedAt: cached.fetchedAt, Stale: true, Err: err}, nil
		}
		return Result{}, err
	}
	data := v.([]byte)

	fetchedAt := c.clock.Now()
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return Result{}, ErrCleared
	}
	c.entries[key] = entry{data: data, fetchedAt: fetchedAt}
	c.mu.Unlock()

	if err := c.persist(ctx); err != nil {
		c.log.Warn("query cache persist failed", zap.Error(err))
	}
	return Result{Data: data, FetchedAt: fetchedAt}, nil
}

// Invalidate marks key stale so the next Fetch refetches it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.fetchedAt = time.Time{}
		c.entries[key] = e
	}
	c.mu.Unlock()
}

// Clear drops every entry, in memory and persisted. In-flight fetches
// started before Clear do not repopulate the cache.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Delete(ctx, c.cfg.PersistKey)
}

func (c *Cache) fetchWithRetry(ctx context.Context, key string, fetcher Fetcher) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInterval
	bo.MaxElapsedTime = 0

	var data []byte
	err := backoff.RetryNotify(func() error {
		var err error
		data, err = fetcher(ctx)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.Retries), ctx), func(err error, wait time.Duration) {
		c.log.Debug("query fetch retry", zap.String("key", key), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	return data, nil
}
