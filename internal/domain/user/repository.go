package user

import (
	"context"
	"time"
)

type Repository interface {
	Transaction(ctx context.Context, fn func(Repository) error) error
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	CreateProfile(ctx context.Context, profile *Profile) error
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate, nameChangedAt *time.Time) error
	UpdateLocation(ctx context.Context, userID string, location Location, at time.Time) error
	SetOnline(ctx context.Context, userID string, online bool) error
	SetEmergencyContacts(ctx context.Context, userID string, contacts []EmergencyContact) error
	DeleteProfile(ctx context.Context, userID string) error
}

// FamilyLeaver removes a user from their family circle on account deletion.
// A family or membership that is already gone is not an error.
type FamilyLeaver interface {
	DetachUser(ctx context.Context, userID, familyID string) error
}

// AlertPurger deletes every alert a user owns.
type AlertPurger interface {
	DeleteAllForUser(ctx context.Context, userID string) error
}
