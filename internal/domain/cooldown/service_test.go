package cooldown

import (
	"context"
	"errors"
	"testing"
	"time"

	"family-alert-go/internal/domain/user"
	"family-alert-go/pkg/logger"
)

type fakeProfiles struct {
	profiles map[string]*user.Profile
	writes   int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]*user.Profile)}
}

func (r *fakeProfiles) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	profile, ok := r.profiles[userID]
	if !ok {
		return nil, user.ErrProfileNotFound
	}
	copied := *profile
	return &copied, nil
}

func (r *fakeProfiles) SetCooldownEnd(ctx context.Context, userID string, end *time.Time) error {
	profile, ok := r.profiles[userID]
	if !ok {
		return user.ErrProfileNotFound
	}
	r.writes++
	profile.CooldownEnd = end
	return nil
}

func TestRemainingSecondsArithmetic(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(DefaultDuration)
	profile := &user.Profile{CooldownEnd: &end}

	previous := RemainingSeconds(profile, start)
	if previous != int(DefaultDuration/time.Second) {
		t.Fatalf("expected %d seconds at start, got %d", int(DefaultDuration/time.Second), previous)
	}
	for now := start; !now.After(end.Add(2 * time.Second)); now = now.Add(333 * time.Millisecond) {
		remaining := RemainingSeconds(profile, now)
		if remaining > previous {
			t.Fatalf("remaining seconds increased at %v: %d > %d", now, remaining, previous)
		}
		if !now.Before(end) && IsOnCooldown(profile, now) {
			t.Fatalf("expected no cooldown at or after end, now=%v", now)
		}
		previous = remaining
	}

	if got := RemainingSeconds(profile, end); got != 0 {
		t.Fatalf("expected 0 at cooldown end, got %d", got)
	}
	if got := RemainingSeconds(profile, end.Add(-1500*time.Millisecond)); got != 2 {
		t.Fatalf("expected partial seconds rounded up to 2, got %d", got)
	}
}

func TestNilCooldownIsNotOnCooldown(t *testing.T) {
	now := time.Now()
	if IsOnCooldown(&user.Profile{}, now) || IsOnCooldown(nil, now) {
		t.Fatalf("expected no cooldown without cooldownEnd")
	}
	past := now.Add(-time.Minute)
	if IsOnCooldown(&user.Profile{CooldownEnd: &past}, now) {
		t.Fatalf("expected past cooldownEnd to be ignored")
	}
}

func TestStartAndCheck(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeProfiles()
	repo.profiles["u1"] = &user.Profile{ID: "u1"}
	svc := NewService(repo, 0, logger.Nop()).WithClock(func() time.Time { return now })

	if err := svc.Check(context.Background(), "u1"); err != nil {
		t.Fatalf("expected no cooldown before start, got %v", err)
	}

	end, err := svc.Start(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !end.Equal(now.Add(DefaultDuration)) {
		t.Fatalf("expected default duration, got %v", end)
	}

	err = svc.Check(context.Background(), "u1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) || rateErr.RemainingSeconds != int(DefaultDuration/time.Second) {
		t.Fatalf("expected remaining seconds in error, got %v", err)
	}
}

func TestClearIfExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	repo := newFakeProfiles()
	repo.profiles["u1"] = &user.Profile{ID: "u1", CooldownEnd: &future}
	svc := NewService(repo, time.Minute, logger.Nop()).WithClock(func() time.Time { return now })

	cleared, err := svc.ClearIfExpired(context.Background(), "u1")
	if !errors.Is(err, ErrRateLimited) || cleared {
		t.Fatalf("expected refusal while running, got cleared=%v err=%v", cleared, err)
	}

	svc.WithClock(func() time.Time { return future })
	cleared, err = svc.ClearIfExpired(context.Background(), "u1")
	if err != nil || !cleared {
		t.Fatalf("expected cleared at end, got cleared=%v err=%v", cleared, err)
	}
	if repo.profiles["u1"].CooldownEnd != nil {
		t.Fatalf("expected cooldownEnd cleared")
	}

	cleared, err = svc.ClearIfExpired(context.Background(), "u1")
	if err != nil || cleared {
		t.Fatalf("expected nothing to clear, got cleared=%v err=%v", cleared, err)
	}
}

func TestCheckWithoutProfile(t *testing.T) {
	svc := NewService(newFakeProfiles(), 0, logger.Nop())
	if err := svc.Check(context.Background(), "ghost"); err != nil {
		t.Fatalf("expected no cooldown for unknown user, got %v", err)
	}
}
