package family

import (
	"context"
	"slices"
	"sync"

	"family-alert-go/internal/domain/user"
	"family-alert-go/pkg/logger"
)

// StreamMembers emits the combined family and member-profile view whenever the
// family document or any member profile changes. Each time the members list
// changes, every per-member subscription is cancelled before the new set is
// created. Cancel tears down the family subscription and all member ones.
func (s *Service) StreamMembers(ctx context.Context, familyID string, fn func(MembersView)) (Cancel, error) {
	st := &memberStream{
		ctx:      ctx,
		repo:     s.repo,
		familyID: familyID,
		fn:       fn,
		children: make(map[string]Cancel),
		profiles: make(map[string]*user.Profile),
		loaded:   make(map[string]bool),
		log:      s.log,
	}

	parent, err := s.repo.WatchFamily(ctx, familyID, st.onFamily)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.parent = parent
	st.mu.Unlock()

	return st.cancel, nil
}

type memberStream struct {
	ctx      context.Context
	repo     Repository
	familyID string
	fn       func(MembersView)
	log      logger.Logger

	// emitMu serialises calls to fn so views arrive in build order.
	emitMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	parent     Cancel
	family     *Family
	deleted    bool
	generation uint64
	children   map[string]Cancel
	profiles   map[string]*user.Profile
	loaded     map[string]bool
}

func (st *memberStream) onFamily(f *Family) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}

	var previous []string
	if st.family != nil {
		previous = st.family.Members
	}
	var current []string
	if f != nil {
		current = f.Members
	}
	membersChanged := st.family == nil || f == nil || !slices.Equal(previous, current)

	st.family = f
	st.deleted = f == nil

	var gen uint64
	if membersChanged {
		st.cancelChildrenLocked()
		st.generation++
		gen = st.generation
	}
	st.mu.Unlock()

	if membersChanged && f != nil {
		st.subscribeMembers(gen, current)
	}
	st.emit()
}

// subscribeMembers runs without the lock held so a backend that delivers the
// first snapshot synchronously cannot deadlock.
func (st *memberStream) subscribeMembers(gen uint64, members []string) {
	for _, memberID := range members {
		memberID := memberID
		cancel, err := st.repo.WatchProfile(st.ctx, memberID, func(p *user.Profile) {
			st.onProfile(gen, memberID, p)
		})
		if err != nil {
			st.log.InternalError("family: watch member profile failed", err, "family_id", st.familyID, "user_id", memberID)
			continue
		}

		st.mu.Lock()
		if st.closed || st.generation != gen {
			st.mu.Unlock()
			cancel()
			return
		}
		st.children[memberID] = cancel
		st.mu.Unlock()
	}
}

func (st *memberStream) onProfile(gen uint64, memberID string, p *user.Profile) {
	st.mu.Lock()
	if st.closed || st.generation != gen {
		st.mu.Unlock()
		return
	}
	st.profiles[memberID] = p
	st.loaded[memberID] = true
	st.mu.Unlock()

	st.emit()
}

func (st *memberStream) emit() {
	st.emitMu.Lock()
	defer st.emitMu.Unlock()

	view, ready := st.view()
	if !ready {
		return
	}
	st.fn(view)
}

// view builds the current snapshot. It is not ready until every member has
// reported its profile at least once.
func (st *memberStream) view() (MembersView, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return MembersView{}, false
	}
	if st.deleted {
		return MembersView{FamilyID: st.familyID, Deleted: true, Members: []MemberView{}}, true
	}
	if st.family == nil {
		return MembersView{}, false
	}

	view := MembersView{
		FamilyID:   st.family.ID,
		FamilyName: st.family.Name,
		CreatorID:  st.family.CreatorID,
		Members:    make([]MemberView, 0, len(st.family.Members)),
	}
	for _, memberID := range st.family.Members {
		if !st.loaded[memberID] {
			return MembersView{}, false
		}
		member := MemberView{UserID: memberID, IsCreator: memberID == st.family.CreatorID}
		if p := st.profiles[memberID]; p != nil {
			member.Name = p.Name
			member.Email = p.Email
			member.Phone = p.Phone
			member.PhotoURL = p.PhotoURL
			member.Location = p.Location
			member.IsOnline = p.IsOnline
			member.LastLocationUpdate = p.LastLocationUpdate
		}
		view.Members = append(view.Members, member)
	}
	return view, true
}

func (st *memberStream) cancelChildrenLocked() {
	for id, cancel := range st.children {
		cancel()
		delete(st.children, id)
	}
	st.profiles = make(map[string]*user.Profile)
	st.loaded = make(map[string]bool)
}

func (st *memberStream) cancel() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	parent := st.parent
	st.cancelChildrenLocked()
	st.mu.Unlock()

	if parent != nil {
		parent()
	}
}
