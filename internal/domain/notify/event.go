// Package notify turns newly created alerts into emails for the owner's
// emergency contacts.
package notify

import (
	"context"
	"time"
)

// Event describes a newly created alert. It is never produced for an update
// of an already active alert.
type Event struct {
	AlertID       string    `json:"alertId"`
	UserID        string    `json:"userId"`
	UserName      string    `json:"userName"`
	Phone         string    `json:"phone,omitempty"`
	EmergencyType string    `json:"emergencyType"`
	Address       string    `json:"address,omitempty"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type Recorder interface {
	EmailSent()
	EmailFailed()
}

type noopRecorder struct{}

func (noopRecorder) EmailSent() {}

func (noopRecorder) EmailFailed() {}
