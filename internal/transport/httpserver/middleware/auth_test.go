package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"family-alert-go/internal/config"
	"family-alert-go/internal/domain/user"
	"family-alert-go/pkg/logger"
	"firebase.google.com/go/v4/auth"
)

type stubVerifier struct {
	tokens map[string]*auth.Token
}

func (v stubVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	token, ok := v.tokens[idToken]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return token, nil
}

type recordingEnsurer struct {
	seen []user.Identity
}

func (e *recordingEnsurer) EnsureProfile(_ context.Context, identity user.Identity) (*user.Profile, error) {
	e.seen = append(e.seen, identity)
	return &user.Profile{ID: identity.UserID}, nil
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(u.ID))
}

func newTestAuth(ensurer ProfileEnsurer) *FirebaseAuth {
	verifier := stubVerifier{tokens: map[string]*auth.Token{
		"good": {UID: "u1", Claims: map[string]any{"email": "u1@example.com", "name": "Una"}},
	}}
	return NewFirebaseAuth(config.AuthConfig{}, verifier, ensurer, logger.Nop())
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	h := newTestAuth(nil).Middleware(http.HandlerFunc(echoUser))

	for _, header := range []string{"", "Bearer", "Basic good", "Bearer nope"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestAuthAttachesUserAndEnsuresProfile(t *testing.T) {
	ensurer := &recordingEnsurer{}
	h := newTestAuth(ensurer).Middleware(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "u1" {
		t.Fatalf("expected u1, got %d %q", rec.Code, rec.Body.String())
	}
	if len(ensurer.seen) != 1 {
		t.Fatalf("expected one ensure call, got %d", len(ensurer.seen))
	}
	if got := ensurer.seen[0]; got.Email != "u1@example.com" || got.Name != "Una" {
		t.Fatalf("unexpected identity %+v", got)
	}
}

func TestAuthQueryTokenOnlyForWebsocket(t *testing.T) {
	h := newTestAuth(nil).Middleware(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/stream?access_token=good", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without upgrade, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/stream?access_token=good", nil)
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with upgrade, got %d", rec.Code)
	}
}

func TestAuthSkipUsesMockUser(t *testing.T) {
	a := NewFirebaseAuth(config.AuthConfig{SkipAuth: true, MockUserID: "dev"}, nil, nil, logger.Nop())
	rec := httptest.NewRecorder()
	a.Middleware(http.HandlerFunc(echoUser)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "dev" {
		t.Fatalf("expected dev, got %q", rec.Body.String())
	}

	a = NewFirebaseAuth(config.AuthConfig{SkipAuth: true}, nil, nil, logger.Nop())
	rec = httptest.NewRecorder()
	a.Middleware(http.HandlerFunc(echoUser)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without mock user, got %d", rec.Code)
	}
}

func TestCORSAllowsListedOrigins(t *testing.T) {
	h := NewCORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("expected origin echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	if OriginAllowed([]string{"https://app.example.com"}, "https://evil.example.com") {
		t.Fatalf("expected unlisted origin rejected")
	}
	if !OriginAllowed([]string{"*"}, "https://anything.example.com") {
		t.Fatalf("expected wildcard to allow any origin")
	}
}
