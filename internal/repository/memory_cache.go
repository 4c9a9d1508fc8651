package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kjannette/kakeibo-whatif/internal/models"
)

// MemoryQuoteCache is a process-local quote cache. Entries are copied on the
// way in and out so callers cannot mutate stored payloads.
type MemoryQuoteCache struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
}

func NewMemoryQuoteCache() *MemoryQuoteCache {
	return &MemoryQuoteCache{entries: make(map[string]models.CacheEntry)}
}

func (c *MemoryQuoteCache) Get(_ context.Context, symbol string) (*models.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[strings.ToUpper(symbol)]
	if !ok {
		return nil, nil
	}
	e.Payload = append([]byte(nil), e.Payload...)
	return &e, nil
}

func (c *MemoryQuoteCache) Upsert(_ context.Context, e *models.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *e
	stored.Symbol = strings.ToUpper(e.Symbol)
	stored.Payload = append([]byte(nil), e.Payload...)
	c.entries[stored.Symbol] = stored
	return nil
}

func (c *MemoryQuoteCache) ListSymbols(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.entries))
	for s := range c.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
