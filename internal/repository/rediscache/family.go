// Package rediscache shares the family read cache between service instances.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	familydomain "family-alert-go/internal/domain/family"
	"family-alert-go/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "family-alert:family:"

// FamilyCache stores families as JSON under prefix+id. Redis failures are
// logged and treated as misses.
type FamilyCache struct {
	client *redis.Client
	prefix string
	log    logger.Logger
}

type cachedFamily struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	CreatorID string   `json:"creatorId"`
	Members   []string `json:"members"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

func NewFamilyCache(client *redis.Client, prefix string, log logger.Logger) *FamilyCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &FamilyCache{client: client, prefix: prefix, log: log}
}

func (c *FamilyCache) Get(ctx context.Context, familyID string) (*familydomain.Family, bool) {
	raw, err := c.client.Get(ctx, c.prefix+familyID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn("family cache: get failed", "family_id", familyID, "error", err)
		return nil, false
	}

	family, err := decodeFamily(raw)
	if err != nil {
		c.log.Warn("family cache: decode failed", "family_id", familyID, "error", err)
		return nil, false
	}
	return family, true
}

func (c *FamilyCache) Set(ctx context.Context, familyID string, family *familydomain.Family, ttl time.Duration) {
	if family == nil || ttl <= 0 {
		c.Delete(ctx, familyID)
		return
	}

	raw, err := encodeFamily(family)
	if err != nil {
		c.log.Warn("family cache: encode failed", "family_id", familyID, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.prefix+familyID, raw, ttl).Err(); err != nil {
		c.log.Warn("family cache: set failed", "family_id", familyID, "error", err)
	}
}

func (c *FamilyCache) Delete(ctx context.Context, familyID string) {
	if err := c.client.Del(ctx, c.prefix+familyID).Err(); err != nil {
		c.log.Warn("family cache: delete failed", "family_id", familyID, "error", err)
	}
}

func encodeFamily(family *familydomain.Family) ([]byte, error) {
	return json.Marshal(cachedFamily{
		ID:        family.ID,
		Name:      family.Name,
		CreatorID: family.CreatorID,
		Members:   family.Members,
		CreatedAt: family.CreatedAt.UnixMilli(),
		UpdatedAt: family.UpdatedAt.UnixMilli(),
	})
}

func decodeFamily(raw []byte) (*familydomain.Family, error) {
	var item cachedFamily
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, errors.New("cached family without id")
	}
	members := item.Members
	if members == nil {
		members = []string{}
	}
	return &familydomain.Family{
		ID:        item.ID,
		Name:      item.Name,
		CreatorID: item.CreatorID,
		Members:   members,
		CreatedAt: time.UnixMilli(item.CreatedAt),
		UpdatedAt: time.UnixMilli(item.UpdatedAt),
	}, nil
}
