package alert

import "time"

const (
	TypeFire       = "fire"
	TypeAccident   = "accident"
	TypeLifeThreat = "life-threat"
	TypeGeneral    = "general"

	StatusActive  = "active"
	StatusStopped = "stopped"

	MaxNotesLength   = 200
	MaxPhotos        = 3
	VisibilityWindow = 24 * time.Hour
)

type Photo struct {
	ID  string
	URL string
}

type Alert struct {
	ID            string
	UserID        string
	Latitude      float64
	Longitude     float64
	Address       string
	UserName      string
	Phone         string
	PhotoURL      string
	EmergencyType string
	Notes         string
	Photos        []Photo
	Status        string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StoppedAt     *time.Time
}

// Input is what a client sends for create-or-update. Address, coordinates and
// photo URLs arrive already resolved.
type Input struct {
	Latitude      float64
	Longitude     float64
	Address       string
	UserName      string
	Phone         string
	PhotoURL      string
	EmergencyType string
	Notes         string
	Photos        []Photo
}

type Result struct {
	AlertID  string
	IsUpdate bool
	Alert    Alert
}

// Expired reports whether a stopped alert fell out of the visibility window.
func (a Alert) Expired(now time.Time, window time.Duration) bool {
	return a.Status == StatusStopped && a.StoppedAt != nil && now.Sub(*a.StoppedAt) > window
}

func ValidType(t string) bool {
	switch t {
	case TypeFire, TypeAccident, TypeLifeThreat, TypeGeneral:
		return true
	}
	return false
}
