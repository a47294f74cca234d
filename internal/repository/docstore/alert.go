package docstore

import (
	"context"
	"fmt"
	"time"

	"family-alert-go/internal/domain/alert"
	"family-alert-go/internal/store"
)

type AlertRepository struct {
	gw   store.Gateway
	db   session
	inTx bool
}

func NewAlertRepository(gw store.Gateway) *AlertRepository {
	return &AlertRepository{gw: gw, db: gw}
}

func (r *AlertRepository) Transaction(ctx context.Context, fn func(alert.Repository) error) error {
	return runTx(ctx, r.gw, r.inTx, r.db, func(tx session) error {
		return fn(&AlertRepository{gw: r.gw, db: tx, inTx: true})
	})
}

func (r *AlertRepository) GetAlert(ctx context.Context, alertID string) (*alert.Alert, error) {
	doc, err := r.db.Get(ctx, store.CollectionAlerts, alertID)
	if err != nil {
		return nil, mapNotFound(err, alert.ErrAlertNotFound)
	}
	a := decodeAlert(*doc)
	return &a, nil
}

// FindActiveByUser returns the newest active alert of userID.
func (r *AlertRepository) FindActiveByUser(ctx context.Context, userID string) (*alert.Alert, error) {
	q := store.NewQuery(store.CollectionAlerts).
		Where("userId", store.OpEqual, userID).
		Where("status", store.OpEqual, alert.StatusActive).
		Order("createdAt", true)
	docs, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find active alert: %w", err)
	}
	if len(docs) == 0 {
		return nil, alert.ErrAlertNotFound
	}
	a := decodeAlert(docs[0])
	return &a, nil
}

func (r *AlertRepository) ListByUser(ctx context.Context, userID string) ([]alert.Alert, error) {
	q := store.NewQuery(store.CollectionAlerts).
		Where("userId", store.OpEqual, userID).
		Order("createdAt", true)
	docs, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return decodeAlerts(docs), nil
}

func (r *AlertRepository) CreateAlert(ctx context.Context, a *alert.Alert) error {
	return r.db.Create(ctx, store.CollectionAlerts, a.ID, encodeAlert(a))
}

func (r *AlertRepository) UpdateActive(ctx context.Context, alertID string, input alert.Input) error {
	fields := store.Fields{
		"latitude":      input.Latitude,
		"longitude":     input.Longitude,
		"address":       input.Address,
		"userName":      input.UserName,
		"phone":         input.Phone,
		"photoUrl":      input.PhotoURL,
		"emergencyType": input.EmergencyType,
		"notes":         input.Notes,
		"photos":        encodePhotos(input.Photos),
		"status":        alert.StatusActive,
		"isActive":      true,
	}
	err := r.db.Update(ctx, store.CollectionAlerts, alertID, fields)
	return mapNotFound(err, alert.ErrAlertNotFound)
}

func (r *AlertRepository) MarkStopped(ctx context.Context, alertID string, stoppedAt time.Time) error {
	err := r.db.Update(ctx, store.CollectionAlerts, alertID, store.Fields{
		"status":    alert.StatusStopped,
		"isActive":  false,
		"stoppedAt": store.Millis(stoppedAt),
	})
	return mapNotFound(err, alert.ErrAlertNotFound)
}

func (r *AlertRepository) DeleteAlert(ctx context.Context, alertID string) error {
	return r.db.Delete(ctx, store.CollectionAlerts, alertID)
}

// WatchVisible streams alerts with status active or stopped, newest first.
func (r *AlertRepository) WatchVisible(ctx context.Context, fn func([]alert.Alert)) (alert.Cancel, error) {
	q := store.NewQuery(store.CollectionAlerts).
		Where("status", store.OpIn, []string{alert.StatusActive, alert.StatusStopped}).
		Order("createdAt", true)
	cancel, err := r.gw.Watch(ctx, q, func(docs []store.Document) {
		fn(decodeAlerts(docs))
	})
	if err != nil {
		return nil, err
	}
	return alert.Cancel(cancel), nil
}

func encodeAlert(a *alert.Alert) store.Fields {
	return store.Fields{
		"userId":        a.UserID,
		"latitude":      a.Latitude,
		"longitude":     a.Longitude,
		"address":       a.Address,
		"userName":      a.UserName,
		"phone":         a.Phone,
		"photoUrl":      a.PhotoURL,
		"emergencyType": a.EmergencyType,
		"notes":         a.Notes,
		"photos":        encodePhotos(a.Photos),
		"status":        a.Status,
		"isActive":      a.IsActive,
		"createdAt":     store.Millis(a.CreatedAt),
		"stoppedAt":     store.OptionalMillis(a.StoppedAt),
	}
}

func decodeAlert(doc store.Document) alert.Alert {
	f := doc.Fields
	return alert.Alert{
		ID:            doc.ID,
		UserID:        f.String("userId"),
		Latitude:      f.Float("latitude"),
		Longitude:     f.Float("longitude"),
		Address:       f.String("address"),
		UserName:      f.String("userName"),
		Phone:         f.String("phone"),
		PhotoURL:      f.String("photoUrl"),
		EmergencyType: f.String("emergencyType"),
		Notes:         f.String("notes"),
		Photos:        decodePhotos(f.Maps("photos")),
		Status:        f.String("status"),
		IsActive:      f.Bool("isActive"),
		CreatedAt:     f.Time("createdAt"),
		UpdatedAt:     f.Time(store.FieldUpdatedAt),
		StoppedAt:     f.OptionalTime("stoppedAt"),
	}
}

func decodeAlerts(docs []store.Document) []alert.Alert {
	out := make([]alert.Alert, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeAlert(doc))
	}
	return out
}

func encodePhotos(photos []alert.Photo) []any {
	out := make([]any, 0, len(photos))
	for _, p := range photos {
		out = append(out, map[string]any{"id": p.ID, "url": p.URL})
	}
	return out
}

func decodePhotos(items []store.Fields) []alert.Photo {
	out := make([]alert.Photo, 0, len(items))
	for _, item := range items {
		out = append(out, alert.Photo{ID: item.String("id"), URL: item.String("url")})
	}
	return out
}

var _ alert.Repository = (*AlertRepository)(nil)
