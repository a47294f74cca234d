package cooldown

import (
	"context"
	"errors"
	"time"

	"family-alert-go/internal/domain/user"
	"family-alert-go/pkg/logger"
)

type Repository interface {
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
	SetCooldownEnd(ctx context.Context, userID string, end *time.Time) error
}

type Status struct {
	OnCooldown       bool
	RemainingSeconds int
	CooldownEnd      *time.Time
}

type Service struct {
	repo     Repository
	duration time.Duration
	log      logger.Logger
	now      func() time.Time
}

func NewService(repo Repository, duration time.Duration, log logger.Logger) *Service {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Service{
		repo:     repo,
		duration: duration,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Duration() time.Duration {
	return s.duration
}

// Start sets cooldownEnd to now+d; d <= 0 uses the configured duration.
func (s *Service) Start(ctx context.Context, userID string, d time.Duration) (time.Time, error) {
	if d <= 0 {
		d = s.duration
	}
	end := s.now().Add(d)
	if err := s.repo.SetCooldownEnd(ctx, userID, &end); err != nil {
		return time.Time{}, err
	}
	s.log.Debug("cooldown: started", "user_id", userID, "until", end)
	return end, nil
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.repo.SetCooldownEnd(ctx, userID, nil)
}

// ClearIfExpired drops a stored cooldownEnd that has already passed. It
// refuses with a RateLimitError while the cooldown is still running.
func (s *Service) ClearIfExpired(ctx context.Context, userID string) (bool, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	now := s.now()
	if IsOnCooldown(profile, now) {
		return false, &RateLimitError{RemainingSeconds: RemainingSeconds(profile, now), Until: *profile.CooldownEnd}
	}
	if profile.CooldownEnd == nil {
		return false, nil
	}
	if err := s.Clear(ctx, userID); err != nil {
		return false, err
	}
	return true, nil
}

// Check fails with a RateLimitError wrapping ErrRateLimited while the user is on cooldown.
// A user without a profile has no cooldown.
func (s *Service) Check(ctx context.Context, userID string) error {
	profile, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, user.ErrProfileNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	now := s.now()
	if !IsOnCooldown(profile, now) {
		return nil
	}
	return &RateLimitError{RemainingSeconds: RemainingSeconds(profile, now), Until: *profile.CooldownEnd}
}

func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	now := s.now()
	status := Status{
		OnCooldown:       IsOnCooldown(profile, now),
		RemainingSeconds: RemainingSeconds(profile, now),
	}
	if status.OnCooldown {
		end := *profile.CooldownEnd
		status.CooldownEnd = &end
	}
	return status, nil
}
