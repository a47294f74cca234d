package inmemory

import (
	"context"
	"sync"
	"time"

	familydomain "family-alert-go/internal/domain/family"
)

// FamilyCache keeps family documents by id for a short TTL.
type FamilyCache struct {
	mu    sync.RWMutex
	items map[string]familyItem
	now   func() time.Time
}

type familyItem struct {
	value     familydomain.Family
	expiresAt time.Time
}

func NewFamilyCache() *FamilyCache {
	return &FamilyCache{
		items: make(map[string]familyItem),
		now:   time.Now,
	}
}

func (c *FamilyCache) Get(_ context.Context, familyID string) (*familydomain.Family, bool) {
	now := c.now()

	c.mu.RLock()
	item, ok := c.items[familyID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !item.expiresAt.After(now) {
		c.mu.Lock()
		item, ok = c.items[familyID]
		if ok && !item.expiresAt.After(now) {
			delete(c.items, familyID)
		}
		c.mu.Unlock()
		return nil, false
	}

	return cloneFamily(item.value), true
}

func (c *FamilyCache) Set(ctx context.Context, familyID string, family *familydomain.Family, ttl time.Duration) {
	if family == nil || ttl <= 0 {
		c.Delete(ctx, familyID)
		return
	}

	c.mu.Lock()
	c.items[familyID] = familyItem{
		value:     *cloneFamily(*family),
		expiresAt: c.now().Add(ttl),
	}
	c.mu.Unlock()
}

func (c *FamilyCache) Delete(_ context.Context, familyID string) {
	c.mu.Lock()
	delete(c.items, familyID)
	c.mu.Unlock()
}

func cloneFamily(f familydomain.Family) *familydomain.Family {
	f.Members = append([]string(nil), f.Members...)
	return &f
}
