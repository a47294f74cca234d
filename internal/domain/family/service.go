package family

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"family-alert-go/internal/domain/user"
	"family-alert-go/pkg/logger"
	"github.com/google/uuid"
)

const (
	inviteCodeAttempts = 10
	defaultCacheTTL    = time.Minute
)

type Service struct {
	repo      Repository
	cache     Cache
	cacheTTL  time.Duration
	inviteTTL time.Duration
	log       logger.Logger
	now       func() time.Time

	// cacheMu orders cache fills against invalidations; epoch counts
	// invalidations so a fill that raced one is dropped.
	cacheMu sync.Mutex
	epoch   uint64
}

type Option func(*Service)

func WithCache(cache Cache, ttl time.Duration) Option {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithInviteTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.inviteTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(repo Repository, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		cache:     noopCache{},
		cacheTTL:  defaultCacheTTL,
		inviteTTL: DefaultInviteTTL,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) GetFamily(ctx context.Context, familyID string) (*Family, error) {
	if cached, ok := s.cache.Get(ctx, familyID); ok {
		return cached, nil
	}
	return s.loadFamily(ctx, familyID)
}

// MemberFamily reads the family from the store, bypassing the cache, and
// returns ErrNotMember unless userID is a member.
func (s *Service) MemberFamily(ctx context.Context, familyID, userID string) (*Family, error) {
	family, err := s.loadFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if !family.HasMember(userID) {
		return nil, ErrNotMember
	}
	return family, nil
}

func (s *Service) loadFamily(ctx context.Context, familyID string) (*Family, error) {
	s.cacheMu.Lock()
	epoch := s.epoch
	s.cacheMu.Unlock()

	family, err := s.repo.GetFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	if s.epoch == epoch {
		s.cache.Set(ctx, familyID, family, s.cacheTTL)
	}
	s.cacheMu.Unlock()
	return family, nil
}

func (s *Service) invalidate(ctx context.Context, familyID string) {
	s.cacheMu.Lock()
	s.epoch++
	s.cache.Delete(ctx, familyID)
	s.cacheMu.Unlock()
}

func (s *Service) CreateFamily(ctx context.Context, creatorID, name string) (*Family, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return nil, ErrInvalidName
	}

	now := s.now()
	var result Family
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		inFamily, err := s.inLiveFamily(ctx, tx, creatorID)
		if err != nil {
			return err
		}
		if inFamily != "" {
			return ErrAlreadyInFamily
		}

		family := Family{
			ID:        uuid.NewString(),
			Name:      name,
			CreatorID: creatorID,
			Members:   []string{creatorID},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateFamily(ctx, &family); err != nil {
			return err
		}
		if err := tx.SetUserFamily(ctx, creatorID, &family.ID); err != nil {
			return err
		}

		result = family
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("family: created", "family_id", result.ID, "creator_id", creatorID)
	return &result, nil
}

// IssueInviteCode stores code for familyID. A live code held by another family
// is refused; an expired one or one of the same family is replaced.
func (s *Service) IssueInviteCode(ctx context.Context, familyID, creatorID, code string, ttl time.Duration) (*InviteCode, error) {
	code = NormalizeInviteCode(code)
	if !validInviteCode(code) {
		return nil, ErrInvalidInviteCode
	}
	if ttl <= 0 {
		ttl = s.inviteTTL
	}

	now := s.now()
	invite := InviteCode{
		Code:      code,
		FamilyID:  familyID,
		CreatorID: creatorID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		family, err := tx.GetFamily(ctx, familyID)
		if err != nil {
			return err
		}
		if family.CreatorID != creatorID {
			return ErrForbidden
		}
		if family.IsFull() {
			return ErrFamilyFull
		}

		existing, err := tx.GetInviteCode(ctx, code)
		if err != nil && !errors.Is(err, ErrInviteNotFound) {
			return err
		}
		if existing != nil && existing.FamilyID != familyID && existing.Live(now) {
			return ErrInviteCodeTaken
		}

		return tx.SaveInviteCode(ctx, &invite)
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("family: invite code issued", "family_id", familyID, "expires_at", invite.ExpiresAt)
	return &invite, nil
}

// NewInviteCode generates a random code and issues it, retrying on collisions.
func (s *Service) NewInviteCode(ctx context.Context, familyID, creatorID string) (*InviteCode, error) {
	for i := 0; i < inviteCodeAttempts; i++ {
		code, err := generateCode(InviteCodeLength)
		if err != nil {
			return nil, err
		}
		invite, err := s.IssueInviteCode(ctx, familyID, creatorID, code, 0)
		if errors.Is(err, ErrInviteCodeTaken) {
			continue
		}
		return invite, err
	}
	return nil, ErrCodeGenerationFailed
}

// RedeemInviteCode adds userID to the code's family and consumes the code.
// Membership, the user's familyId and the code change in one transaction.
func (s *Service) RedeemInviteCode(ctx context.Context, userID, code string) (*Family, error) {
	code = NormalizeInviteCode(code)
	if code == "" {
		return nil, ErrInviteNotFound
	}

	now := s.now()
	var (
		result  Family
		expired bool
	)
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		expired = false

		invite, err := tx.GetInviteCode(ctx, code)
		if err != nil {
			return err
		}
		if !invite.Live(now) {
			expired = true
			return tx.DeleteInviteCode(ctx, code)
		}

		family, err := tx.GetFamily(ctx, invite.FamilyID)
		if err != nil {
			return err
		}
		if family.IsFull() {
			return ErrFamilyFull
		}
		if family.HasMember(userID) {
			return ErrAlreadyMember
		}
		current, err := s.inLiveFamily(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current != "" {
			return ErrAlreadyInFamily
		}

		members := append(append([]string{}, family.Members...), userID)
		if err := tx.UpdateMembers(ctx, family.ID, members); err != nil {
			return err
		}
		if err := tx.SetUserFamily(ctx, userID, &family.ID); err != nil {
			return err
		}
		if err := tx.DeleteInviteCode(ctx, code); err != nil {
			return err
		}

		result = *family
		result.Members = members
		result.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrInviteExpired
	}

	s.invalidate(ctx, result.ID)
	s.log.Info("family: member joined", "family_id", result.ID, "user_id", userID)
	return &result, nil
}

// LeaveFamily removes userID from the family. When the creator leaves the
// family is deleted and every member's familyId is cleared.
func (s *Service) LeaveFamily(ctx context.Context, userID, familyID string) error {
	deleted := false
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		deleted = false

		family, err := tx.GetFamily(ctx, familyID)
		if err != nil {
			return err
		}

		if family.CreatorID == userID {
			linked, err := linkedMembers(ctx, tx, family.ID, family.Members)
			if err != nil {
				return err
			}
			for _, memberID := range linked {
				if err := tx.SetUserFamily(ctx, memberID, nil); err != nil {
					return err
				}
			}
			deleted = true
			return tx.DeleteFamily(ctx, family.ID)
		}

		if !family.HasMember(userID) {
			return ErrMemberNotFound
		}
		return s.detach(ctx, tx, family, userID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, familyID)
	if deleted {
		s.log.Info("family: deleted by creator", "family_id", familyID, "creator_id", userID)
	} else {
		s.log.Info("family: member left", "family_id", familyID, "user_id", userID)
	}
	return nil
}

// DetachUser is LeaveFamily for account deletion: a family or membership that
// is already gone is not an error.
func (s *Service) DetachUser(ctx context.Context, userID, familyID string) error {
	err := s.LeaveFamily(ctx, userID, familyID)
	if errors.Is(err, ErrFamilyNotFound) || errors.Is(err, ErrMemberNotFound) {
		return nil
	}
	return err
}

func (s *Service) RemoveMember(ctx context.Context, creatorID, familyID, memberID string) error {
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		family, err := tx.GetFamily(ctx, familyID)
		if err != nil {
			return err
		}
		if family.CreatorID != creatorID {
			return ErrForbidden
		}
		if memberID == family.CreatorID {
			return ErrCannotRemoveCreator
		}
		if !family.HasMember(memberID) {
			return ErrMemberNotFound
		}
		return s.detach(ctx, tx, family, memberID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, familyID)
	s.log.Info("family: member removed", "family_id", familyID, "member_id", memberID, "creator_id", creatorID)
	return nil
}

// detach drops memberID from the members list and clears its familyId when it
// still points at this family.
func (s *Service) detach(ctx context.Context, tx Repository, family *Family, memberID string) error {
	linked, err := linkedMembers(ctx, tx, family.ID, []string{memberID})
	if err != nil {
		return err
	}
	if err := tx.UpdateMembers(ctx, family.ID, family.without(memberID)); err != nil {
		return err
	}
	for _, id := range linked {
		if err := tx.SetUserFamily(ctx, id, nil); err != nil {
			return err
		}
	}
	return nil
}

// inLiveFamily returns the id of the existing family userID belongs to, or "".
// A familyId pointing at a deleted family, or one that no longer lists the
// user, does not count.
func (s *Service) inLiveFamily(ctx context.Context, tx Repository, userID string) (string, error) {
	familyID, err := tx.GetUserFamilyID(ctx, userID)
	if err != nil {
		return "", err
	}
	if familyID == nil || *familyID == "" {
		return "", nil
	}
	family, err := tx.GetFamily(ctx, *familyID)
	if errors.Is(err, ErrFamilyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !family.HasMember(userID) {
		return "", nil
	}
	return family.ID, nil
}

// linkedMembers returns the ids among members whose profile exists and points at familyID.
func linkedMembers(ctx context.Context, tx Repository, familyID string, members []string) ([]string, error) {
	linked := make([]string, 0, len(members))
	for _, id := range members {
		current, err := tx.GetUserFamilyID(ctx, id)
		if errors.Is(err, user.ErrProfileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if current != nil && *current == familyID {
			linked = append(linked, id)
		}
	}
	return linked, nil
}

func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validInviteCode(code string) bool {
	if len(code) != InviteCodeLength {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func generateCode(length int) (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	max := big.NewInt(int64(len(alphabet)))

	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		builder.WriteByte(alphabet[n.Int64()])
	}

	return builder.String(), nil
}
