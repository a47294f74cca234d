package family

import (
	"context"
	"time"
)

type Cache interface {
	Get(ctx context.Context, familyID string) (*Family, bool)
	Set(ctx context.Context, familyID string, family *Family, ttl time.Duration)
	Delete(ctx context.Context, familyID string)
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*Family, bool) {
	return nil, false
}

func (noopCache) Set(context.Context, string, *Family, time.Duration) {}

func (noopCache) Delete(context.Context, string) {}
