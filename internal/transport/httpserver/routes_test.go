package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"family-alert-go/internal/config"
	alertdomain "family-alert-go/internal/domain/alert"
	cooldowndomain "family-alert-go/internal/domain/cooldown"
	familydomain "family-alert-go/internal/domain/family"
	userdomain "family-alert-go/internal/domain/user"
	"family-alert-go/internal/metrics"
	"family-alert-go/internal/repository/docstore"
	"family-alert-go/internal/store/memory"
	"family-alert-go/internal/transport/httpserver/handler"
	"family-alert-go/pkg/logger"
	"firebase.google.com/go/v4/auth"
	"github.com/gorilla/websocket"
)

// fakeVerifier accepts tokens of the form "token-<uid>".
type fakeVerifier struct{}

func (fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	uid, ok := strings.CutPrefix(idToken, "token-")
	if !ok || uid == "" {
		return nil, errors.New("bad token")
	}
	return &auth.Token{UID: uid, Claims: map[string]any{"email": uid + "@example.com"}}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	log := logger.Nop()
	gw := memory.New()
	t.Cleanup(func() { _ = gw.Close() })

	users := docstore.NewUserRepository(gw)
	cooldowns := cooldowndomain.NewService(users, time.Hour, log)
	alerts := alertdomain.NewService(docstore.NewAlertRepository(gw), log, alertdomain.WithCooldown(cooldowns))
	families := familydomain.NewService(docstore.NewFamilyRepository(gw), log)
	profiles := userdomain.NewService(users, log, userdomain.WithAccountCleanup(families, alerts))

	cfg := config.Config{
		Auth: config.AuthConfig{Timeout: time.Second},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	handlers := handler.New(handler.Services{
		Profiles:  profiles,
		Cooldowns: cooldowns,
		Alerts:    alerts,
		Families:  families,
	}, log)
	return NewRouter(cfg, handlers, fakeVerifier{}, profiles, metrics.New(), log)
}

func do(t *testing.T, h http.Handler, method, path, uid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if uid != "" {
		req.Header.Set("Authorization", "Bearer token-"+uid)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestRouter(t)
	rec := do(t, h, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestRouter(t)
	rec := do(t, h, http.MethodGet, "/api/profile", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProfileCreatedOnFirstRequest(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/profile", "ann", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	profile := decode[map[string]any](t, rec)
	if profile["email"] != "ann@example.com" || profile["name"] != "ann" {
		t.Fatalf("unexpected profile %v", profile)
	}

	rec = do(t, h, http.MethodPut, "/api/profile/location", "ann", map[string]float64{"latitude": 200, "longitude": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad latitude, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPut, "/api/profile/contacts", "ann", map[string]any{
		"contacts": []map[string]string{{"name": "Bob", "email": "BOB@example.com"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "bob@example.com") {
		t.Fatalf("expected lowercased contact, got %s", rec.Body.String())
	}
}

func TestAlertLifecycleAndCooldown(t *testing.T) {
	h := newTestRouter(t)
	body := map[string]any{"latitude": 1.5, "longitude": 2.5, "emergency_type": "fire", "notes": "kitchen"}

	rec := do(t, h, http.MethodPost, "/api/alerts", "ann", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[map[string]any](t, rec)
	alertID, _ := created["alert_id"].(string)
	if alertID == "" {
		t.Fatalf("expected alert id, got %v", created)
	}

	body["notes"] = "spreading"
	rec = do(t, h, http.MethodPost, "/api/alerts", "ann", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for update, got %d", rec.Code)
	}
	updated := decode[map[string]any](t, rec)
	if updated["alert_id"] != alertID || updated["is_update"] != true {
		t.Fatalf("expected update of %s, got %v", alertID, updated)
	}

	rec = do(t, h, http.MethodPost, "/api/alerts/"+alertID+"/stop", "bob", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/alerts/"+alertID+"/stop", "ann", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/alerts/active", "ann", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after stop, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/alerts", "ann", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while on cooldown, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	rec = do(t, h, http.MethodGet, "/api/cooldown", "ann", nil)
	status := decode[map[string]any](t, rec)
	if status["on_cooldown"] != true {
		t.Fatalf("expected cooldown active, got %v", status)
	}
	if status["cooldown_seconds"] != float64(3600) {
		t.Fatalf("expected cooldown_seconds 3600, got %v", status["cooldown_seconds"])
	}
}

func TestFamilyInviteFlow(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/families", "ann", map[string]string{"name": "Home"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	family := decode[map[string]any](t, rec)
	familyID := family["id"].(string)

	rec = do(t, h, http.MethodPost, "/api/families/"+familyID+"/invites", "bob", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-creator invite, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/families/"+familyID+"/invites", "ann", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	invite := decode[map[string]any](t, rec)
	code := invite["code"].(string)
	if len(code) != familydomain.InviteCodeLength {
		t.Fatalf("expected %d character code, got %q", familydomain.InviteCodeLength, code)
	}

	rec = do(t, h, http.MethodPost, "/api/families/join", "bob", map[string]string{"code": strings.ToLower(code)})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/families/join", "carl", map[string]string{"code": code})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for used code, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/families/"+familyID, "carl", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/families/"+familyID, "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for member, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/api/families/"+familyID+"/members/ann", "bob", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member removing creator, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/api/families/"+familyID+"/members/bob", "ann", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestAlertStreamPushesSnapshots(t *testing.T) {
	h := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/alerts/stream"
	header := http.Header{"Authorization": []string{"Bearer token-watcher"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	var first struct {
		Alerts []map[string]any `json:"alerts"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	if len(first.Alerts) != 0 {
		t.Fatalf("expected empty snapshot, got %v", first.Alerts)
	}

	rec := do(t, h, http.MethodPost, "/api/alerts", "ann", map[string]any{"latitude": 1, "longitude": 2})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	for {
		var next struct {
			Alerts []map[string]any `json:"alerts"`
		}
		if err := conn.ReadJSON(&next); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		if len(next.Alerts) == 1 {
			if next.Alerts[0]["user_id"] != "ann" {
				t.Fatalf("unexpected alert %v", next.Alerts[0])
			}
			return
		}
	}
}

func TestMemberStreamClosesWhenMemberRemoved(t *testing.T) {
	h := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	rec := do(t, h, http.MethodPost, "/api/families", "ann", map[string]string{"name": "Home"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	familyID := decode[map[string]any](t, rec)["id"].(string)
	rec = do(t, h, http.MethodPost, "/api/families/"+familyID+"/invites", "ann", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	code := decode[map[string]any](t, rec)["code"].(string)
	rec = do(t, h, http.MethodPost, "/api/families/join", "bob", map[string]string{"code": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/families/" + familyID + "/members/stream"
	header := http.Header{"Authorization": []string{"Bearer token-bob"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	type snapshot struct {
		Deleted bool `json:"deleted"`
		Members []struct {
			UserID string `json:"user_id"`
		} `json:"members"`
	}
	listsBob := func(s snapshot) bool {
		for _, m := range s.Members {
			if m.UserID == "bob" {
				return true
			}
		}
		return false
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	if len(first.Members) != 2 || !listsBob(first) {
		t.Fatalf("expected ann and bob, got %+v", first)
	}

	rec = do(t, h, http.MethodDelete, "/api/families/"+familyID+"/members/bob", "ann", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	for {
		var next snapshot
		err := conn.ReadJSON(&next)
		if err == nil {
			if !listsBob(next) {
				t.Fatalf("expected no snapshot after removal, got %+v", next)
			}
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("expected close frame, got %v", err)
		}
		if closeErr.Code != websocket.ClosePolicyViolation {
			t.Fatalf("expected close code %d, got %d", websocket.ClosePolicyViolation, closeErr.Code)
		}
		return
	}
}
