package alert

import (
	"context"
	"time"
)

type Cancel func()

type Repository interface {
	Transaction(ctx context.Context, fn func(Repository) error) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	FindActiveByUser(ctx context.Context, userID string) (*Alert, error)
	ListByUser(ctx context.Context, userID string) ([]Alert, error)
	CreateAlert(ctx context.Context, alert *Alert) error
	UpdateActive(ctx context.Context, alertID string, input Input) error
	MarkStopped(ctx context.Context, alertID string, stoppedAt time.Time) error
	DeleteAlert(ctx context.Context, alertID string) error
	WatchVisible(ctx context.Context, fn func([]Alert)) (Cancel, error)
}

// CooldownGate guards alert creation. Check runs before the insert, Start
// after it; updates of an active alert touch neither.
type CooldownGate interface {
	Check(ctx context.Context, userID string) error
	Start(ctx context.Context, userID string, d time.Duration) (time.Time, error)
}

type Recorder interface {
	AlertCreated()
	AlertUpdated()
	AlertStopped()
	AlertPurged()
}

type noopRecorder struct{}

func (noopRecorder) AlertCreated() {}

func (noopRecorder) AlertUpdated() {}

func (noopRecorder) AlertStopped() {}

func (noopRecorder) AlertPurged() {}
