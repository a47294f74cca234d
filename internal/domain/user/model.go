package user

import "time"

const (
	MaxEmergencyContacts = 5
	NameChangeInterval   = 7 * 24 * time.Hour
	defaultName          = "User"
)

type Location struct {
	Latitude  float64
	Longitude float64
}

type EmergencyContact struct {
	Name  string
	Email string
}

type Profile struct {
	ID                 string
	Name               string
	Email              string
	Phone              string
	PhotoURL           string
	FamilyID           *string
	Location           *Location
	IsOnline           bool
	LastLocationUpdate *time.Time
	CooldownEnd        *time.Time
	LastNameChange     *time.Time
	EmergencyContacts  []EmergencyContact
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Identity is what the auth provider knows about a signed-in user.
type Identity struct {
	UserID   string
	Email    string
	Name     string
	PhotoURL string
}

type ProfileUpdate struct {
	Name     *string
	Phone    *string
	PhotoURL *string
}
