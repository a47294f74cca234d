package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"family-alert-go/pkg/logger"
)

const maxNameLength = 50

type Service struct {
	repo     Repository
	families FamilyLeaver
	alerts   AlertPurger
	log      logger.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithAccountCleanup sets the collaborators DeleteAccount cascades into.
func WithAccountCleanup(families FamilyLeaver, alerts AlertPurger) Option {
	return func(s *Service) {
		s.families = families
		s.alerts = alerts
	}
}

func NewService(repo Repository, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		log:  log,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureProfile returns the stored profile, creating it with defaults on first sign-in.
func (s *Service) EnsureProfile(ctx context.Context, identity Identity) (*Profile, error) {
	if identity.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	profile, err := s.repo.GetProfile(ctx, identity.UserID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	now := s.now()
	profile = &Profile{
		ID:                identity.UserID,
		Name:              defaultProfileName(identity),
		Email:             strings.TrimSpace(identity.Email),
		PhotoURL:          strings.TrimSpace(identity.PhotoURL),
		EmergencyContacts: []EmergencyContact{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.repo.CreateProfile(ctx, profile)
	if errors.Is(err, ErrProfileExists) {
		return s.repo.GetProfile(ctx, identity.UserID)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("user: profile created", "user_id", identity.UserID)
	return profile, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return s.repo.GetProfile(ctx, userID)
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error) {
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" || utf8.RuneCountInString(name) > maxNameLength {
			return nil, ErrInvalidName
		}
		update.Name = &name
	}
	if update.Phone != nil {
		phone := strings.TrimSpace(*update.Phone)
		update.Phone = &phone
	}
	if update.PhotoURL != nil {
		photoURL := strings.TrimSpace(*update.PhotoURL)
		update.PhotoURL = &photoURL
	}

	now := s.now()
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		current, err := tx.GetProfile(ctx, userID)
		if err != nil {
			return err
		}

		apply := update
		var nameChangedAt *time.Time
		if apply.Name != nil && *apply.Name != current.Name {
			if current.LastNameChange != nil && now.Sub(*current.LastNameChange) < NameChangeInterval {
				return ErrNameChangeTooSoon
			}
			nameChangedAt = &now
		} else {
			apply.Name = nil
		}

		return tx.UpdateProfile(ctx, userID, apply, nameChangedAt)
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetProfile(ctx, userID)
}

// NextNameChange reports when the profile name may change again, nil when it may change now.
func NextNameChange(profile *Profile, now time.Time) *time.Time {
	if profile == nil || profile.LastNameChange == nil {
		return nil
	}
	next := profile.LastNameChange.Add(NameChangeInterval)
	if !next.After(now) {
		return nil
	}
	return &next
}

func (s *Service) UpdateLocation(ctx context.Context, userID string, location Location) error {
	if !ValidCoordinates(location.Latitude, location.Longitude) {
		return ErrInvalidLocation
	}
	return s.repo.UpdateLocation(ctx, userID, location, s.now())
}

func (s *Service) SetOnline(ctx context.Context, userID string, online bool) error {
	return s.repo.SetOnline(ctx, userID, online)
}

func (s *Service) SetEmergencyContacts(ctx context.Context, userID string, contacts []EmergencyContact) ([]EmergencyContact, error) {
	if len(contacts) > MaxEmergencyContacts {
		return nil, ErrTooManyContacts
	}

	cleaned := make([]EmergencyContact, 0, len(contacts))
	seen := make(map[string]struct{}, len(contacts))
	for _, contact := range contacts {
		name := strings.TrimSpace(contact.Name)
		email := strings.ToLower(strings.TrimSpace(contact.Email))
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidContact)
		}
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return nil, fmt.Errorf("%w: invalid email %q", ErrInvalidContact, contact.Email)
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		cleaned = append(cleaned, EmergencyContact{Name: name, Email: email})
	}

	if err := s.repo.SetEmergencyContacts(ctx, userID, cleaned); err != nil {
		return nil, err
	}
	return cleaned, nil
}

// DeleteAccount leaves the user's family, deletes their alerts and then the profile.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return err
	}

	if profile.FamilyID != nil && *profile.FamilyID != "" && s.families != nil {
		if err := s.families.DetachUser(ctx, userID, *profile.FamilyID); err != nil {
			return fmt.Errorf("leave family: %w", err)
		}
	}
	if s.alerts != nil {
		if err := s.alerts.DeleteAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("delete alerts: %w", err)
		}
	}
	if err := s.repo.DeleteProfile(ctx, userID); err != nil {
		return err
	}

	s.log.Info("user: account deleted", "user_id", userID)
	return nil
}

func ValidCoordinates(latitude, longitude float64) bool {
	return latitude >= -90 && latitude <= 90 && longitude >= -180 && longitude <= 180
}

func defaultProfileName(identity Identity) string {
	if name := strings.TrimSpace(identity.Name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(strings.TrimSpace(identity.Email), "@"); ok && local != "" {
		return local
	}
	return defaultName
}
