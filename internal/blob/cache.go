package blob

import (
	"context"
	"sync"
)

// Reader fetches content bytes by reference.
type Reader interface {
	Read(ctx context.Context, ref string) ([]byte, error)
}

// inflight is a read shared by every concurrent caller of the same ref.
type inflight struct {
	done chan struct{}
	data []byte
	err  error
}

// Cache memoizes successful reads and coalesces concurrent reads of the
// same reference into one network request. Failed reads are not cached.
type Cache struct {
	reader     Reader
	maxEntries int

	mu      sync.Mutex
	entries map[string][]byte
	order   []string // order is insertion order, for eviction
	pending map[string]*inflight
}

// NewCache wraps reader. maxEntries <= 0 means unbounded.
func NewCache(reader Reader, maxEntries int) *Cache {
	return &Cache{
		reader:     reader,
		maxEntries: maxEntries,
		entries:    make(map[string][]byte),
		pending:    make(map[string]*inflight),
	}
}

// Read returns the cached bytes for ref or fetches them.
// Callers must not modify the returned slice.
func (c *Cache) Read(ctx context.Context, ref string) ([]byte, error) {
	c.mu.Lock()

	if data, ok := c.entries[ref]; ok {
		c.mu.Unlock()
		return data, nil
	}

	if call, ok := c.pending[ref]; ok {
		c.mu.Unlock()
		return call.wait(ctx)
	}

	call := &inflight{done: make(chan struct{})}
	c.pending[ref] = call
	c.mu.Unlock()

	// Waiters share this fetch, so it ignores the first caller's cancellation.
	call.data, call.err = c.reader.Read(context.WithoutCancel(ctx), ref)

	c.mu.Lock()
	delete(c.pending, ref)
	if call.err == nil {
		c.store(ref, call.data)
	}
	c.mu.Unlock()

	close(call.done)

	return call.data, call.err
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// store inserts an entry, evicting the oldest past maxEntries. Caller holds mu.
func (c *Cache) store(ref string, data []byte) {
	c.entries[ref] = data
	c.order = append(c.order, ref)

	for c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// wait blocks until the shared read completes or ctx is done.
func (f *inflight) wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
