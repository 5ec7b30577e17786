// internal/pipeline/cache.go
package pipeline

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// CacheKey identifies one memoized verdict. The validator version is part
// of the key so a redeployed validator never serves verdicts cached by an
// older version of its logic.
type CacheKey struct {
	Validator   string
	Version     string
	Fingerprint string
	Caller      string
}

// String flattens the key for map lookup.
func (k CacheKey) String() string {
	var sb strings.Builder
	sb.Grow(len(k.Validator) + len(k.Version) + len(k.Fingerprint) + len(k.Caller) + 3)
	sb.WriteString(k.Validator)
	sb.WriteByte(0)
	sb.WriteString(k.Version)
	sb.WriteByte(0)
	sb.WriteString(k.Fingerprint)
	sb.WriteByte(0)
	sb.WriteString(k.Caller)
	return sb.String()
}

// cacheEntry is one memoized verdict with its expiry.
type cacheEntry struct {
	key       CacheKey
	verdict   error
	expiresAt time.Time
}

// inflightCall tracks a computation in progress so concurrent requests for
// the same key share one execution instead of racing.
type inflightCall struct {
	done    chan struct{}
	verdict error
}

// CacheStats holds cache counters.
type CacheStats struct {
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
	Capacity  int
}

// HitRate calculates the cache hit rate.
func (s *CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache memoizes validator verdicts with TTL expiry and LRU eviction.
// Contention is scoped to individual keys: the lock is never held while a
// verdict is being computed. It is the only state shared between in-flight
// requests.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	lruList  *list.List
	inflight map[string]*inflightCall

	hits      int64
	misses    int64
	evictions int64

	now  func() time.Time
	done chan struct{}
}

// NewCache creates a verdict cache. A cleanupInterval of zero disables the
// background sweep; expired entries are then dropped lazily on lookup.
func NewCache(capacity int, ttl, cleanupInterval time.Duration) *Cache {
	c := &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
		inflight: make(map[string]*inflightCall),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupExpired(cleanupInterval)
	}
	return c
}

// setClock swaps the time source. Test hook.
func (c *Cache) setClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// GetOrCompute returns the cached verdict for key when present and
// unexpired. Otherwise it runs compute, stores the verdict when compute
// says so, and returns it. Concurrent callers for the same key share one
// computation; joiners count as hits. The returned error is an
// infrastructure failure (context cancelled while waiting), distinct from
// the verdict.
func (c *Cache) GetOrCompute(ctx context.Context, key CacheKey, compute func() (verdict error, store bool)) (verdict error, hit bool, err error) {
	ks := key.String()

	c.mu.Lock()
	if elem, ok := c.items[ks]; ok {
		entry := elem.Value.(*cacheEntry)
		if c.now().Before(entry.expiresAt) {
			c.lruList.MoveToFront(elem)
			c.hits++
			c.mu.Unlock()
			return entry.verdict, true, nil
		}
		c.removeLocked(elem)
	}

	if call, ok := c.inflight[ks]; ok {
		c.hits++
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.verdict, true, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	c.inflight[ks] = call
	c.misses++
	c.mu.Unlock()

	result, store := compute()
	call.verdict = result
	close(call.done)

	c.mu.Lock()
	delete(c.inflight, ks)
	if store {
		c.insertLocked(ks, key, result)
	}
	c.mu.Unlock()

	return result, false, nil
}

// Get returns the cached verdict without computing on miss.
func (c *Cache) Get(key CacheKey) (verdict error, ok bool) {
	ks := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, found := c.items[ks]
	if !found {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, false
	}
	c.lruList.MoveToFront(elem)
	c.hits++
	return entry.verdict, true
}

// Put stores a verdict with the configured TTL.
func (c *Cache) Put(key CacheKey, verdict error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(key.String(), key, verdict)
}

func (c *Cache) insertLocked(ks string, key CacheKey, verdict error) {
	if elem, ok := c.items[ks]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.verdict = verdict
		entry.expiresAt = c.now().Add(c.ttl)
		c.lruList.MoveToFront(elem)
		return
	}

	entry := &cacheEntry{
		key:       key,
		verdict:   verdict,
		expiresAt: c.now().Add(c.ttl),
	}
	c.items[ks] = c.lruList.PushFront(entry)

	for c.capacity > 0 && c.lruList.Len() > c.capacity {
		c.evictOldestLocked()
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.lruList.Remove(elem)
	delete(c.items, entry.key.String())
}

func (c *Cache) evictOldestLocked() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.removeLocked(elem)
	c.evictions++
}

// InvalidateCaller drops every entry tied to a caller. This is the only
// targeted invalidation; everything else expires passively. Returns the
// number of entries removed.
func (c *Cache) InvalidateCaller(callerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.lruList.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*cacheEntry).key.Caller == callerID {
			c.removeLocked(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// cleanupExpired sweeps out expired entries on an interval.
func (c *Cache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for elem := c.lruList.Front(); elem != nil; {
				next := elem.Next()
				if !now.Before(elem.Value.(*cacheEntry).expiresAt) {
					c.removeLocked(elem)
				}
				elem = next
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Stats returns current cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Items:     c.lruList.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Capacity:  c.capacity,
	}
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	close(c.done)
}
