// Package cache is the read-through booking cache consulted by the reconciler
// and invalidated by the replay executor.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gownqueue/pkg/domain"
)

const (
	defaultSize = 4096
	defaultTTL  = 30 * time.Second
)

// Options configures a Cache.
type Options struct {
	Size   int
	TTL    time.Duration
	Logger *zap.Logger
}

// Cache serves fresh bookings from a TTL-bounded LRU and keeps the last known
// copy of each booking so status stays renderable while the source is unreachable.
type Cache struct {
	source    domain.BookingSource
	fresh     *expirable.LRU[string, domain.Booking]
	lastKnown *lru.Cache[string, domain.Booking]
	group     singleflight.Group
	logger    *zap.Logger

	mu  sync.Mutex
	gen map[string]uint64 // bumped by Invalidate
}

// New builds a cache over source.
func New(source domain.BookingSource, opts Options) (*Cache, error) {
	if source == nil {
		return nil, fmt.Errorf("booking source required")
	}
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	lastKnown, err := lru.New[string, domain.Booking](opts.Size)
	if err != nil {
		return nil, fmt.Errorf("create last-known cache: %w", err)
	}
	return &Cache{
		source:    source,
		fresh:     expirable.NewLRU[string, domain.Booking](opts.Size, nil, opts.TTL),
		lastKnown: lastKnown,
		logger:    opts.Logger,
		gen:       make(map[string]uint64),
	}, nil
}

// Get returns the booking, fetching it when no fresh copy is cached.
// Concurrent misses for the same id share one fetch. When the fetch fails for
// any reason other than the booking not existing, the last known copy is returned.
// A fetch that overlaps an Invalidate of the same id is returned to its callers
// but not cached.
func (c *Cache) Get(ctx context.Context, id string) (domain.Booking, error) {
	if b, ok := c.fresh.Get(id); ok {
		return b, nil
	}
	v, err, _ := c.group.Do(id, func() (any, error) {
		started := c.generation(id)
		b, err := c.source.FetchBooking(ctx, id)
		if err != nil {
			return domain.Booking{}, err
		}
		c.putIfCurrent(id, b, started)
		return b, nil
	})
	if err == nil {
		return v.(domain.Booking), nil
	}
	if !errors.Is(err, domain.ErrBookingNotFound) {
		if b, ok := c.lastKnown.Get(id); ok {
			c.logger.Debug("serving last known booking", zap.String("entity_id", id), zap.Error(err))
			return b, nil
		}
	}
	return domain.Booking{}, fmt.Errorf("fetch booking %s: %w", id, err)
}

// Put seeds the cache with an authoritative booking.
func (c *Cache) Put(b domain.Booking) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fresh.Add(b.ID, b)
	c.lastKnown.Add(b.ID, b)
}

func (c *Cache) putIfCurrent(id string, b domain.Booking, started uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[id] != started {
		c.logger.Debug("dropping booking fetched before invalidation", zap.String("entity_id", id))
		return
	}
	c.fresh.Add(id, b)
	c.lastKnown.Add(id, b)
}

func (c *Cache) generation(id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[id]
}

// Invalidate drops the fresh copy so the next Get refetches, and detaches any
// fetch already in flight so later callers do not share its result. The last
// known copy is kept for offline rendering.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	c.gen[id]++
	c.fresh.Remove(id)
	c.mu.Unlock()
	c.group.Forget(id)
}

// Len reports the number of fresh entries.
func (c *Cache) Len() int { return c.fresh.Len() }
