package family

import (
	"time"

	"family-alert-go/internal/domain/user"
)

const (
	MaxMembers       = 6
	MaxNameLength    = 50
	InviteCodeLength = 6
	DefaultInviteTTL = 25 * time.Second
)

type Family struct {
	ID        string
	Name      string
	CreatorID string
	Members   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (f *Family) HasMember(userID string) bool {
	for _, id := range f.Members {
		if id == userID {
			return true
		}
	}
	return false
}

func (f *Family) IsFull() bool {
	return len(f.Members) >= MaxMembers
}

// without returns the members list minus userID, order preserved.
func (f *Family) without(userID string) []string {
	out := make([]string, 0, len(f.Members))
	for _, id := range f.Members {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

type InviteCode struct {
	Code      string
	FamilyID  string
	CreatorID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Live reports whether the code can still be redeemed at now.
func (c *InviteCode) Live(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

type MemberView struct {
	UserID             string
	Name               string
	Email              string
	Phone              string
	PhotoURL           string
	Location           *user.Location
	IsOnline           bool
	IsCreator          bool
	LastLocationUpdate *time.Time
}

type MembersView struct {
	FamilyID   string
	FamilyName string
	CreatorID  string
	Members    []MemberView
	Deleted    bool
}
