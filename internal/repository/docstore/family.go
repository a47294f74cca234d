package docstore

import (
	"context"
	"fmt"

	"family-alert-go/internal/domain/family"
	"family-alert-go/internal/domain/user"
	"family-alert-go/internal/store"
)

type FamilyRepository struct {
	gw   store.Gateway
	db   session
	inTx bool
}

func NewFamilyRepository(gw store.Gateway) *FamilyRepository {
	return &FamilyRepository{gw: gw, db: gw}
}

func (r *FamilyRepository) Transaction(ctx context.Context, fn func(family.Repository) error) error {
	return runTx(ctx, r.gw, r.inTx, r.db, func(tx session) error {
		return fn(&FamilyRepository{gw: r.gw, db: tx, inTx: true})
	})
}

func (r *FamilyRepository) GetFamily(ctx context.Context, familyID string) (*family.Family, error) {
	doc, err := r.db.Get(ctx, store.CollectionFamilies, familyID)
	if err != nil {
		return nil, mapNotFound(err, family.ErrFamilyNotFound)
	}
	return decodeFamily(doc), nil
}

func (r *FamilyRepository) CreateFamily(ctx context.Context, f *family.Family) error {
	err := r.db.Create(ctx, store.CollectionFamilies, f.ID, store.Fields{
		"name":      f.Name,
		"creatorId": f.CreatorID,
		"members":   f.Members,
		"createdAt": store.Millis(f.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("create family: %w", err)
	}
	return nil
}

func (r *FamilyRepository) UpdateMembers(ctx context.Context, familyID string, members []string) error {
	err := r.db.Update(ctx, store.CollectionFamilies, familyID, store.Fields{"members": members})
	return mapNotFound(err, family.ErrFamilyNotFound)
}

func (r *FamilyRepository) DeleteFamily(ctx context.Context, familyID string) error {
	return r.db.Delete(ctx, store.CollectionFamilies, familyID)
}

func (r *FamilyRepository) GetUserFamilyID(ctx context.Context, userID string) (*string, error) {
	doc, err := r.db.Get(ctx, store.CollectionUsers, userID)
	if err != nil {
		return nil, mapNotFound(err, user.ErrProfileNotFound)
	}
	return doc.Fields.OptionalString("familyId"), nil
}

func (r *FamilyRepository) SetUserFamily(ctx context.Context, userID string, familyID *string) error {
	err := r.db.Update(ctx, store.CollectionUsers, userID, store.Fields{"familyId": optionalString(familyID)})
	return mapNotFound(err, user.ErrProfileNotFound)
}

func (r *FamilyRepository) GetInviteCode(ctx context.Context, code string) (*family.InviteCode, error) {
	doc, err := r.db.Get(ctx, store.CollectionInviteCodes, code)
	if err != nil {
		return nil, mapNotFound(err, family.ErrInviteNotFound)
	}
	f := doc.Fields
	return &family.InviteCode{
		Code:      doc.ID,
		FamilyID:  f.String("familyId"),
		CreatorID: f.String("creatorId"),
		ExpiresAt: f.Time("expiresAt"),
		CreatedAt: f.Time("createdAt"),
	}, nil
}

// SaveInviteCode overwrites whatever document the code held before.
func (r *FamilyRepository) SaveInviteCode(ctx context.Context, invite *family.InviteCode) error {
	return r.db.Set(ctx, store.CollectionInviteCodes, invite.Code, store.Fields{
		"familyId":  invite.FamilyID,
		"creatorId": invite.CreatorID,
		"expiresAt": store.Millis(invite.ExpiresAt),
		"createdAt": store.Millis(invite.CreatedAt),
	})
}

func (r *FamilyRepository) DeleteInviteCode(ctx context.Context, code string) error {
	return r.db.Delete(ctx, store.CollectionInviteCodes, code)
}

// WatchFamily reports nil once the family document is gone.
func (r *FamilyRepository) WatchFamily(ctx context.Context, familyID string, fn func(*family.Family)) (family.Cancel, error) {
	cancel, err := r.gw.WatchDocument(ctx, store.CollectionFamilies, familyID, func(doc *store.Document) {
		if doc == nil {
			fn(nil)
			return
		}
		fn(decodeFamily(doc))
	})
	if err != nil {
		return nil, err
	}
	return family.Cancel(cancel), nil
}

func (r *FamilyRepository) WatchProfile(ctx context.Context, userID string, fn func(*user.Profile)) (family.Cancel, error) {
	cancel, err := r.gw.WatchDocument(ctx, store.CollectionUsers, userID, func(doc *store.Document) {
		if doc == nil {
			fn(nil)
			return
		}
		fn(decodeProfile(doc))
	})
	if err != nil {
		return nil, err
	}
	return family.Cancel(cancel), nil
}

func decodeFamily(doc *store.Document) *family.Family {
	f := doc.Fields
	members := f.Strings("members")
	if members == nil {
		members = []string{}
	}
	return &family.Family{
		ID:        doc.ID,
		Name:      f.String("name"),
		CreatorID: f.String("creatorId"),
		Members:   members,
		CreatedAt: f.Time("createdAt"),
		UpdatedAt: f.Time(store.FieldUpdatedAt),
	}
}

var (
	_ family.Repository = (*FamilyRepository)(nil)
	_ user.Repository   = (*UserRepository)(nil)
)
