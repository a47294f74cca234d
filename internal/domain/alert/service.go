package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"family-alert-go/internal/domain/notify"
	"family-alert-go/internal/domain/user"
	"family-alert-go/pkg/logger"
	"github.com/google/uuid"
)

const purgeTimeout = 10 * time.Second

type Service struct {
	repo      Repository
	cooldown  CooldownGate
	publisher notify.Publisher
	recorder  Recorder
	log       logger.Logger
	now       func() time.Time
	window    time.Duration

	purging sync.Map
}

type Option func(*Service)

func WithCooldown(gate CooldownGate) Option {
	return func(s *Service) {
		s.cooldown = gate
	}
}

func WithPublisher(publisher notify.Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithVisibilityWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.window = window
		}
	}
}

func NewService(repo Repository, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		recorder: noopRecorder{},
		log:      log,
		now:      time.Now,
		window:   VisibilityWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrUpdate keeps at most one active alert per user. An existing active
// alert is updated in place; otherwise a new one is inserted after the
// cooldown gate passes. The lookup and the write share one transaction.
func (s *Service) CreateOrUpdate(ctx context.Context, userID string, input Input) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	input, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var result Result
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		result = Result{}

		active, err := tx.FindActiveByUser(ctx, userID)
		if err != nil && !errors.Is(err, ErrAlertNotFound) {
			return err
		}

		if active != nil {
			if err := tx.UpdateActive(ctx, active.ID, input); err != nil {
				return err
			}
			updated := *active
			applyInput(&updated, input)
			updated.Status = StatusActive
			updated.IsActive = true
			updated.UpdatedAt = now
			result = Result{AlertID: active.ID, IsUpdate: true, Alert: updated}
			return nil
		}

		if s.cooldown != nil {
			if err := s.cooldown.Check(ctx, userID); err != nil {
				return err
			}
		}

		created := Alert{
			ID:        uuid.NewString(),
			UserID:    userID,
			Status:    StatusActive,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		applyInput(&created, input)
		if err := tx.CreateAlert(ctx, &created); err != nil {
			return err
		}
		result = Result{AlertID: created.ID, Alert: created}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.IsUpdate {
		s.recorder.AlertUpdated()
		s.log.Info("alert: updated", "alert_id", result.AlertID, "user_id", userID, "type", result.Alert.EmergencyType)
		return &result, nil
	}

	s.recorder.AlertCreated()
	s.log.Info("alert: created", "alert_id", result.AlertID, "user_id", userID, "type", result.Alert.EmergencyType)
	s.afterCreate(ctx, result.Alert)
	return &result, nil
}

// afterCreate starts the cooldown and hands the alert to the notifier. Neither
// failure undoes the alert.
func (s *Service) afterCreate(ctx context.Context, a Alert) {
	if s.cooldown != nil {
		if _, err := s.cooldown.Start(ctx, a.UserID, 0); err != nil {
			s.log.InternalError("alert: start cooldown failed", err, "alert_id", a.ID, "user_id", a.UserID)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, eventFor(a)); err != nil {
			s.log.InternalError("alert: publish created event failed", err, "alert_id", a.ID)
		}
	}
}

// Stop moves the owner's alert to stopped. Stopping a stopped alert is a no-op.
func (s *Service) Stop(ctx context.Context, actorID, alertID string) error {
	now := s.now()
	stopped := false
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		stopped = false
		current, err := tx.GetAlert(ctx, alertID)
		if err != nil {
			return err
		}
		if current.UserID != actorID {
			return ErrForbidden
		}
		if current.Status == StatusStopped {
			return nil
		}
		if err := tx.MarkStopped(ctx, alertID, now); err != nil {
			return err
		}
		stopped = true
		return nil
	})
	if err != nil {
		return err
	}

	if stopped {
		s.recorder.AlertStopped()
		s.log.Info("alert: stopped", "alert_id", alertID, "user_id", actorID)
	}
	return nil
}

// WatchVisible streams active and recently stopped alerts. Stopped alerts past
// the visibility window are dropped from the emission and deleted in the
// background; a failed delete is logged and retried only by a later emission.
func (s *Service) WatchVisible(ctx context.Context, fn func([]Alert)) (Cancel, error) {
	return s.repo.WatchVisible(ctx, func(alerts []Alert) {
		now := s.now()
		visible := make([]Alert, 0, len(alerts))
		var expired []string
		for _, a := range alerts {
			if a.Status != StatusActive && a.Status != StatusStopped {
				continue
			}
			if a.Expired(now, s.window) {
				expired = append(expired, a.ID)
				continue
			}
			visible = append(visible, a)
		}
		if len(expired) > 0 {
			go s.purge(context.WithoutCancel(ctx), expired)
		}
		fn(visible)
	})
}

func (s *Service) purge(ctx context.Context, ids []string) {
	ctx, cancel := context.WithTimeout(ctx, purgeTimeout)
	defer cancel()

	for _, id := range ids {
		if _, busy := s.purging.LoadOrStore(id, struct{}{}); busy {
			continue
		}
		if err := s.repo.DeleteAlert(ctx, id); err != nil {
			s.log.InternalError("alert: purge expired alert failed", err, "alert_id", id)
		} else {
			s.recorder.AlertPurged()
			s.log.Debug("alert: purged expired alert", "alert_id", id)
		}
		s.purging.Delete(id)
	}
}

func (s *Service) GetActive(ctx context.Context, userID string) (*Alert, error) {
	return s.repo.FindActiveByUser(ctx, userID)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]Alert, error) {
	return s.repo.ListByUser(ctx, userID)
}

// DeleteAllForUser removes every alert a user owns, used by account deletion.
func (s *Service) DeleteAllForUser(ctx context.Context, userID string) error {
	alerts, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	var errs []error
	for _, a := range alerts {
		if err := s.repo.DeleteAlert(ctx, a.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete alert %s: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}

func normalizeInput(input Input) (Input, error) {
	input.EmergencyType = strings.ToLower(strings.TrimSpace(input.EmergencyType))
	if input.EmergencyType == "" {
		input.EmergencyType = TypeGeneral
	}
	if !ValidType(input.EmergencyType) {
		return Input{}, ErrInvalidType
	}
	input.Notes = strings.TrimSpace(input.Notes)
	if utf8.RuneCountInString(input.Notes) > MaxNotesLength {
		return Input{}, ErrNotesTooLong
	}
	if !user.ValidCoordinates(input.Latitude, input.Longitude) {
		return Input{}, ErrInvalidLocation
	}
	if len(input.Photos) > MaxPhotos {
		return Input{}, ErrTooManyPhotos
	}

	photos := make([]Photo, 0, len(input.Photos))
	for _, p := range input.Photos {
		p.URL = strings.TrimSpace(p.URL)
		if p.URL == "" {
			return Input{}, ErrInvalidPhoto
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		photos = append(photos, p)
	}
	input.Photos = photos
	input.Address = strings.TrimSpace(input.Address)
	input.UserName = strings.TrimSpace(input.UserName)
	input.Phone = strings.TrimSpace(input.Phone)
	input.PhotoURL = strings.TrimSpace(input.PhotoURL)
	return input, nil
}

func applyInput(a *Alert, input Input) {
	a.Latitude = input.Latitude
	a.Longitude = input.Longitude
	a.Address = input.Address
	a.UserName = input.UserName
	a.Phone = input.Phone
	a.PhotoURL = input.PhotoURL
	a.EmergencyType = input.EmergencyType
	a.Notes = input.Notes
	a.Photos = input.Photos
}

func eventFor(a Alert) notify.Event {
	return notify.Event{
		AlertID:       a.ID,
		UserID:        a.UserID,
		UserName:      a.UserName,
		Phone:         a.Phone,
		EmergencyType: a.EmergencyType,
		Address:       a.Address,
		Latitude:      a.Latitude,
		Longitude:     a.Longitude,
		Notes:         a.Notes,
		CreatedAt:     a.CreatedAt,
	}
}
