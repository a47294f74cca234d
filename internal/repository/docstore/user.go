package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"family-alert-go/internal/domain/user"
	"family-alert-go/internal/store"
)

type UserRepository struct {
	gw   store.Gateway
	db   session
	inTx bool
}

func NewUserRepository(gw store.Gateway) *UserRepository {
	return &UserRepository{gw: gw, db: gw}
}

func (r *UserRepository) Transaction(ctx context.Context, fn func(user.Repository) error) error {
	return runTx(ctx, r.gw, r.inTx, r.db, func(tx session) error {
		return fn(&UserRepository{gw: r.gw, db: tx, inTx: true})
	})
}

func (r *UserRepository) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	doc, err := r.db.Get(ctx, store.CollectionUsers, userID)
	if err != nil {
		return nil, mapNotFound(err, user.ErrProfileNotFound)
	}
	return decodeProfile(doc), nil
}

func (r *UserRepository) CreateProfile(ctx context.Context, profile *user.Profile) error {
	err := r.db.Create(ctx, store.CollectionUsers, profile.ID, encodeProfile(profile))
	if errors.Is(err, store.ErrAlreadyExists) {
		return user.ErrProfileExists
	}
	return err
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, update user.ProfileUpdate, nameChangedAt *time.Time) error {
	fields := store.Fields{}
	if update.Name != nil {
		fields["name"] = *update.Name
	}
	if update.Phone != nil {
		fields["phone"] = *update.Phone
	}
	if update.PhotoURL != nil {
		fields["photoUrl"] = *update.PhotoURL
	}
	if nameChangedAt != nil {
		fields["lastNameChange"] = store.Millis(*nameChangedAt)
	}
	return r.update(ctx, userID, fields)
}

func (r *UserRepository) UpdateLocation(ctx context.Context, userID string, location user.Location, at time.Time) error {
	return r.update(ctx, userID, store.Fields{
		"location":           encodeLocation(&location),
		"lastLocationUpdate": store.Millis(at),
		"isOnline":           true,
	})
}

func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	return r.update(ctx, userID, store.Fields{"isOnline": online})
}

func (r *UserRepository) SetEmergencyContacts(ctx context.Context, userID string, contacts []user.EmergencyContact) error {
	return r.update(ctx, userID, store.Fields{"emergencyContacts": encodeContacts(contacts)})
}

func (r *UserRepository) SetCooldownEnd(ctx context.Context, userID string, end *time.Time) error {
	return r.update(ctx, userID, store.Fields{"cooldownEnd": store.OptionalMillis(end)})
}

func (r *UserRepository) DeleteProfile(ctx context.Context, userID string) error {
	return r.db.Delete(ctx, store.CollectionUsers, userID)
}

func (r *UserRepository) update(ctx context.Context, userID string, fields store.Fields) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.db.Update(ctx, store.CollectionUsers, userID, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return user.ErrProfileNotFound
		}
		return fmt.Errorf("update profile %s: %w", userID, err)
	}
	return nil
}

func encodeProfile(p *user.Profile) store.Fields {
	return store.Fields{
		"name":               p.Name,
		"email":              p.Email,
		"phone":              p.Phone,
		"photoUrl":           p.PhotoURL,
		"familyId":           optionalString(p.FamilyID),
		"location":           encodeLocation(p.Location),
		"isOnline":           p.IsOnline,
		"lastLocationUpdate": store.OptionalMillis(p.LastLocationUpdate),
		"cooldownEnd":        store.OptionalMillis(p.CooldownEnd),
		"lastNameChange":     store.OptionalMillis(p.LastNameChange),
		"emergencyContacts":  encodeContacts(p.EmergencyContacts),
		"createdAt":          store.Millis(p.CreatedAt),
	}
}

func decodeProfile(doc *store.Document) *user.Profile {
	f := doc.Fields
	return &user.Profile{
		ID:                 doc.ID,
		Name:               f.String("name"),
		Email:              f.String("email"),
		Phone:              f.String("phone"),
		PhotoURL:           f.String("photoUrl"),
		FamilyID:           f.OptionalString("familyId"),
		Location:           decodeLocation(f.Map("location")),
		IsOnline:           f.Bool("isOnline"),
		LastLocationUpdate: f.OptionalTime("lastLocationUpdate"),
		CooldownEnd:        f.OptionalTime("cooldownEnd"),
		LastNameChange:     f.OptionalTime("lastNameChange"),
		EmergencyContacts:  decodeContacts(f.Maps("emergencyContacts")),
		CreatedAt:          f.Time("createdAt"),
		UpdatedAt:          f.Time(store.FieldUpdatedAt),
	}
}

func encodeLocation(l *user.Location) any {
	if l == nil {
		return nil
	}
	return map[string]any{"latitude": l.Latitude, "longitude": l.Longitude}
}

func decodeLocation(f store.Fields) *user.Location {
	if f == nil {
		return nil
	}
	return &user.Location{Latitude: f.Float("latitude"), Longitude: f.Float("longitude")}
}

func encodeContacts(contacts []user.EmergencyContact) []any {
	out := make([]any, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, map[string]any{"name": c.Name, "email": c.Email})
	}
	return out
}

func decodeContacts(items []store.Fields) []user.EmergencyContact {
	out := make([]user.EmergencyContact, 0, len(items))
	for _, item := range items {
		out = append(out, user.EmergencyContact{Name: item.String("name"), Email: item.String("email")})
	}
	return out
}
