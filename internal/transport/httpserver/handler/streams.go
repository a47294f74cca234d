package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	alertdomain "family-alert-go/internal/domain/alert"
	familydomain "family-alert-go/internal/domain/family"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

type alertsSnapshot struct {
	Alerts []alertResponse `json:"alerts"`
}

type memberViewPayload struct {
	UserID             string           `json:"user_id"`
	Name               string           `json:"name"`
	Email              string           `json:"email"`
	Phone              string           `json:"phone"`
	PhotoURL           string           `json:"photo_url"`
	Location           *locationPayload `json:"location"`
	IsOnline           bool             `json:"is_online"`
	IsCreator          bool             `json:"is_creator"`
	LastLocationUpdate *time.Time       `json:"last_location_update"`
}

type membersSnapshot struct {
	FamilyID   string              `json:"family_id"`
	FamilyName string              `json:"family_name"`
	CreatorID  string              `json:"creator_id"`
	Deleted    bool                `json:"deleted"`
	Members    []memberViewPayload `json:"members"`
}

// StreamAlerts pushes every visible alert over a websocket whenever the set changes.
func (h *Handlers) StreamAlerts(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	h.serveStream(w, r, "alerts", user.ID, func(ctx context.Context, push func(any), _ func(streamEnd)) (func(), error) {
		cancel, err := h.Alerts.WatchVisible(ctx, func(alerts []alertdomain.Alert) {
			push(alertsSnapshot{Alerts: toAlertResponses(alerts)})
		})
		return cancel, err
	})
}

// StreamFamilyMembers pushes the family with its member profiles. Only members
// may subscribe.
func (h *Handlers) StreamFamilyMembers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	familyID, ok := pathParam(w, r, "family_id")
	if !ok {
		return
	}

	if _, err := h.Families.MemberFamily(r.Context(), familyID, user.ID); err != nil {
		h.familyError(w, "families.stream", err, user.ID, familyID)
		return
	}

	h.serveStream(w, r, "family_members", user.ID, func(ctx context.Context, push func(any), end func(streamEnd)) (func(), error) {
		cancel, err := h.Families.StreamMembers(ctx, familyID, func(view familydomain.MembersView) {
			switch {
			case view.Deleted:
				end(streamEnd{code: websocket.CloseNormalClosure, reason: "family deleted", final: toMembersSnapshot(view)})
			case !viewListsMember(view, user.ID):
				end(streamEnd{code: websocket.ClosePolicyViolation, reason: "no longer a member"})
			default:
				push(toMembersSnapshot(view))
			}
		})
		return cancel, err
	})
}

func viewListsMember(view familydomain.MembersView, userID string) bool {
	for _, m := range view.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// serveStream upgrades the connection and writes the newest pushed snapshot.
// Snapshots that arrive while a write is in progress replace each other, so a
// slow client only ever sees the latest one. The subscription ends when the
// client goes away or the subscriber calls end, which writes an optional
// final snapshot followed by a close frame.
func (h *Handlers) serveStream(w http.ResponseWriter, r *http.Request, kind, userID string, subscribe func(ctx context.Context, push func(any), end func(streamEnd)) (func(), error)) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.BusinessError("stream: upgrade failed", err, "kind", kind, "user_id", userID)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done := h.streams.StreamOpened(kind)
	defer done()

	slot := newLatestSlot()
	stop, err := subscribe(ctx, slot.put, slot.finish)
	if err != nil {
		h.log.InternalError("stream: subscribe failed", err, "kind", kind, "user_id", userID)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(streamWriteWait))
		return
	}
	defer stop()

	h.log.Debug("stream: opened", "kind", kind, "user_id", userID)
	go readUntilClosed(conn, cancel)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Debug("stream: closed", "kind", kind, "user_id", userID)
			return
		case <-slot.ready:
			payload, end := slot.take()
			if end != nil {
				h.closeStream(conn, kind, userID, end)
				return
			}
			if payload == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(payload); err != nil {
				h.log.Debug("stream: write failed", "kind", kind, "user_id", userID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) closeStream(conn *websocket.Conn, kind, userID string, end *streamEnd) {
	deadline := time.Now().Add(streamWriteWait)
	if end.final != nil {
		_ = conn.SetWriteDeadline(deadline)
		if err := conn.WriteJSON(end.final); err != nil {
			h.log.Debug("stream: write failed", "kind", kind, "user_id", userID, "error", err)
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(end.code, end.reason), deadline)
	h.log.Debug("stream: ended", "kind", kind, "user_id", userID, "reason", end.reason)
}

// readUntilClosed drains client frames so pongs and close frames are handled,
// then cancels the stream.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// streamEnd tells serveStream to stop after writing final, if set.
type streamEnd struct {
	code   int
	reason string
	final  any
}

// latestSlot holds at most one pending snapshot. Once finished it drops
// further snapshots.
type latestSlot struct {
	mu      sync.Mutex
	payload any
	end     *streamEnd
	ready   chan struct{}
}

func newLatestSlot() *latestSlot {
	return &latestSlot{ready: make(chan struct{}, 1)}
}

func (s *latestSlot) put(payload any) {
	s.mu.Lock()
	if s.end != nil {
		s.mu.Unlock()
		return
	}
	s.payload = payload
	s.mu.Unlock()
	s.signal()
}

func (s *latestSlot) finish(end streamEnd) {
	s.mu.Lock()
	if s.end == nil {
		s.end = &end
		s.payload = nil
	}
	s.mu.Unlock()
	s.signal()
}

func (s *latestSlot) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *latestSlot) take() (any, *streamEnd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload := s.payload
	s.payload = nil
	return payload, s.end
}

func toMembersSnapshot(view familydomain.MembersView) membersSnapshot {
	members := make([]memberViewPayload, 0, len(view.Members))
	for _, m := range view.Members {
		item := memberViewPayload{
			UserID:             m.UserID,
			Name:               m.Name,
			Email:              m.Email,
			Phone:              m.Phone,
			PhotoURL:           m.PhotoURL,
			IsOnline:           m.IsOnline,
			IsCreator:          m.IsCreator,
			LastLocationUpdate: m.LastLocationUpdate,
		}
		if m.Location != nil {
			item.Location = &locationPayload{Latitude: m.Location.Latitude, Longitude: m.Location.Longitude}
		}
		members = append(members, item)
	}
	return membersSnapshot{
		FamilyID:   view.FamilyID,
		FamilyName: view.FamilyName,
		CreatorID:  view.CreatorID,
		Deleted:    view.Deleted,
		Members:    members,
	}
}
