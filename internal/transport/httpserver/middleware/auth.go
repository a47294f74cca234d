package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"family-alert-go/internal/config"
	"family-alert-go/internal/domain/user"
	"family-alert-go/pkg/logger"
	"firebase.google.com/go/v4/auth"
)

// TokenVerifier checks a Firebase ID token. *auth.Client implements it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// ProfileEnsurer creates the profile of a user on first sign-in.
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, identity user.Identity) (*user.Profile, error)
}

type FirebaseAuth struct {
	verifier TokenVerifier
	profiles ProfileEnsurer
	timeout  time.Duration
	skipAuth bool
	mockUser User
	log      logger.Logger
}

type contextKey int

const userKey contextKey = iota

type User struct {
	ID       string
	Email    string
	Name     string
	PhotoURL string
}

func NewFirebaseAuth(cfg config.AuthConfig, verifier TokenVerifier, profiles ProfileEnsurer, log logger.Logger) *FirebaseAuth {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &FirebaseAuth{
		verifier: verifier,
		profiles: profiles,
		timeout:  timeout,
		skipAuth: cfg.SkipAuth,
		mockUser: User{
			ID:       strings.TrimSpace(cfg.MockUserID),
			Email:    strings.TrimSpace(cfg.MockUserEmail),
			Name:     strings.TrimSpace(cfg.MockUserName),
			PhotoURL: strings.TrimSpace(cfg.MockUserAvatar),
		},
		log: log,
	}
}

func (a *FirebaseAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			u := a.mockUser
			if u.ID == "" {
				writeError(w, http.StatusInternalServerError, "auth_not_configured", "auth mock user id not configured")
				return
			}
			a.ensureProfile(r.Context(), u)
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
			return
		}

		if a.verifier == nil {
			writeError(w, http.StatusInternalServerError, "auth_not_configured", "auth not configured")
			return
		}

		idToken, ok := requestToken(r)
		if !ok {
			unauthorized(w)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
		token, err := a.verifier.VerifyIDToken(ctx, idToken)
		cancel()
		if err != nil || token.UID == "" {
			a.log.Debug("auth: token rejected", "error", err)
			unauthorized(w)
			return
		}

		u := User{
			ID:       token.UID,
			Email:    stringClaim(token.Claims, "email"),
			Name:     stringClaim(token.Claims, "name"),
			PhotoURL: stringClaim(token.Claims, "picture"),
		}
		a.ensureProfile(r.Context(), u)
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

func (a *FirebaseAuth) ensureProfile(ctx context.Context, u User) {
	if a.profiles == nil {
		return
	}
	_, err := a.profiles.EnsureProfile(ctx, user.Identity{
		UserID:   u.ID,
		Email:    u.Email,
		Name:     u.Name,
		PhotoURL: u.PhotoURL,
	})
	if err != nil {
		a.log.InternalError("auth: ensure profile failed", err, "user_id", u.ID)
	}
}

// requestToken reads the bearer token, falling back to the access_token query
// parameter for websocket upgrades where browsers cannot set headers.
func requestToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
			return token, true
		}
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	if !ok || u.ID == "" {
		return User{}, false
	}
	return u, true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func stringClaim(claims map[string]any, key string) string {
	if claims == nil {
		return ""
	}
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return value
}
