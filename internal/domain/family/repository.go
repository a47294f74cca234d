package family

import (
	"context"

	"family-alert-go/internal/domain/user"
)

type Cancel func()

// Repository reads must come before writes inside a Transaction.
type Repository interface {
	Transaction(ctx context.Context, fn func(Repository) error) error
	GetFamily(ctx context.Context, familyID string) (*Family, error)
	CreateFamily(ctx context.Context, family *Family) error
	UpdateMembers(ctx context.Context, familyID string, members []string) error
	DeleteFamily(ctx context.Context, familyID string) error
	// GetUserFamilyID returns user.ErrProfileNotFound for unknown users.
	GetUserFamilyID(ctx context.Context, userID string) (*string, error)
	SetUserFamily(ctx context.Context, userID string, familyID *string) error
	GetInviteCode(ctx context.Context, code string) (*InviteCode, error)
	SaveInviteCode(ctx context.Context, invite *InviteCode) error
	DeleteInviteCode(ctx context.Context, code string) error
	WatchFamily(ctx context.Context, familyID string, fn func(*Family)) (Cancel, error)
	WatchProfile(ctx context.Context, userID string, fn func(*user.Profile)) (Cancel, error)
}
