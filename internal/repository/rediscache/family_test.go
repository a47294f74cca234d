package rediscache

import (
	"context"
	"testing"
	"time"

	familydomain "family-alert-go/internal/domain/family"
	"family-alert-go/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func TestFamilyCodecRoundTrip(t *testing.T) {
	created := time.UnixMilli(1_700_000_000_123)
	in := &familydomain.Family{
		ID:        "f1",
		Name:      "Home",
		CreatorID: "c",
		Members:   []string{"c", "a"},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}

	raw, err := encodeFamily(in)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	out, err := decodeFamily(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.ID != "f1" || out.Name != "Home" || out.CreatorID != "c" {
		t.Fatalf("unexpected family %+v", out)
	}
	if len(out.Members) != 2 || out.Members[1] != "a" {
		t.Fatalf("expected members [c a], got %v", out.Members)
	}
	if !out.CreatedAt.Equal(created) || !out.UpdatedAt.Equal(created.Add(time.Minute)) {
		t.Fatalf("expected timestamps kept, got %v %v", out.CreatedAt, out.UpdatedAt)
	}
}

func TestDecodeFamilyRejectsBadPayloads(t *testing.T) {
	for _, raw := range []string{"not json", `{"name":"no id"}`} {
		if _, err := decodeFamily([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}

	out, err := decodeFamily([]byte(`{"id":"f1"}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Members == nil {
		t.Fatalf("expected empty members slice, got nil")
	}
}

func TestUnreachableRedisIsAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	cache := NewFamilyCache(client, "", logger.Nop())
	ctx := context.Background()

	cache.Set(ctx, "f1", &familydomain.Family{ID: "f1"}, time.Minute)
	if _, ok := cache.Get(ctx, "f1"); ok {
		t.Fatalf("expected miss when redis is down")
	}
	cache.Delete(ctx, "f1")
}
