// ABOUTME: TTL and size bounded set of Matrix event IDs
// ABOUTME: Drops redelivered events and remembers which events the responder sent

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults for Options fields left zero.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10000
)

// Options configures a Cache.
type Options struct {
	TTL     time.Duration
	MaxSize int
	Now     func() time.Time // defaults to time.Now
}

type item struct {
	key    string
	marked time.Time
}

// Cache is a set of recently seen keys. Entries expire after the TTL and the
// oldest entry is evicted once MaxSize is reached. Expired entries are pruned
// on write, so there is no background goroutine to stop.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // oldest mark at the front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates an empty cache.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		now:     opts.Now,
	}
}

// Contains reports whether key was marked within the TTL.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, c.now())
}

// Seen marks key and reports whether it was already present. Check and mark
// happen under one lock, so concurrent deliveries of one event see exactly
// one false.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.liveLocked(key, now) {
		return true
	}
	c.addLocked(key, now)
	return false
}

// Add marks key, refreshing its TTL if already present.
func (c *Cache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(key, c.now())
}

// Len returns the number of entries, including expired ones not yet pruned.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) liveLocked(key string, now time.Time) bool {
	elem, ok := c.items[key]
	if !ok {
		return false
	}
	return now.Sub(elem.Value.(*item).marked) < c.ttl
}

func (c *Cache) addLocked(key string, now time.Time) {
	c.pruneLocked(now)

	if elem, ok := c.items[key]; ok {
		elem.Value.(*item).marked = now
		c.order.MoveToBack(elem)
		return
	}

	for c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.items[key] = c.order.PushBack(&item{key: key, marked: now})
}

// pruneLocked drops expired entries from the front of the list.
func (c *Cache) pruneLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*item).marked) < c.ttl {
			return
		}
		c.removeLocked(front)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*item).key)
}
