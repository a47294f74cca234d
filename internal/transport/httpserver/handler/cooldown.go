package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	cooldowndomain "family-alert-go/internal/domain/cooldown"
	userdomain "family-alert-go/internal/domain/user"
)

type cooldownResponse struct {
	OnCooldown       bool       `json:"on_cooldown"`
	RemainingSeconds int        `json:"remaining_seconds"`
	CooldownEnd      *time.Time `json:"cooldown_end"`
	// CooldownSeconds is the length of a full cooldown.
	CooldownSeconds int `json:"cooldown_seconds"`
}

type rateLimitedResponse struct {
	Error            errorBody `json:"error"`
	RemainingSeconds int       `json:"remaining_seconds"`
	CooldownEnd      time.Time `json:"cooldown_end"`
}

func (h *Handlers) GetCooldown(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	status, err := h.Cooldowns.Status(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, userdomain.ErrProfileNotFound) {
			h.log.BusinessError("cooldown.get: profile not found", err, "user_id", user.ID)
			writeError(w, http.StatusNotFound, "profile_not_found", "profile not found")
			return
		}
		h.log.InternalError("cooldown.get: status failed", err, "user_id", user.ID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, cooldownResponse{
		OnCooldown:       status.OnCooldown,
		RemainingSeconds: status.RemainingSeconds,
		CooldownEnd:      status.CooldownEnd,
		CooldownSeconds:  int(h.Cooldowns.Duration() / time.Second),
	})
}

func (h *Handlers) ClearCooldown(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	cleared, err := h.Cooldowns.ClearIfExpired(r.Context(), user.ID)
	if err != nil {
		var rateLimited *cooldowndomain.RateLimitError
		switch {
		case errors.As(err, &rateLimited):
			h.log.BusinessError("cooldown.clear: cooldown still running", err, "user_id", user.ID)
			writeRateLimited(w, rateLimited)
		case errors.Is(err, userdomain.ErrProfileNotFound):
			h.log.BusinessError("cooldown.clear: profile not found", err, "user_id", user.ID)
			writeError(w, http.StatusNotFound, "profile_not_found", "profile not found")
		default:
			h.log.InternalError("cooldown.clear: clear failed", err, "user_id", user.ID)
			internalError(w)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

func writeRateLimited(w http.ResponseWriter, err *cooldowndomain.RateLimitError) {
	w.Header().Set("Retry-After", strconv.Itoa(err.RemainingSeconds))
	writeJSON(w, http.StatusTooManyRequests, rateLimitedResponse{
		Error:            errorBody{Code: "rate_limited", Message: err.Error()},
		RemainingSeconds: err.RemainingSeconds,
		CooldownEnd:      err.Until,
	})
}
