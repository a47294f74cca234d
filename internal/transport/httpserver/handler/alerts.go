package handler

import (
	"errors"
	"net/http"
	"time"

	alertdomain "family-alert-go/internal/domain/alert"
	cooldowndomain "family-alert-go/internal/domain/cooldown"
	"family-alert-go/internal/store"
)

type alertRequest struct {
	Latitude      float64        `json:"latitude"`
	Longitude     float64        `json:"longitude"`
	Address       string         `json:"address"`
	UserName      string         `json:"user_name"`
	Phone         string         `json:"phone"`
	PhotoURL      string         `json:"photo_url"`
	EmergencyType string         `json:"emergency_type"`
	Notes         string         `json:"notes"`
	Photos        []photoPayload `json:"photos"`
}

type photoPayload struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type alertResponse struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Latitude      float64        `json:"latitude"`
	Longitude     float64        `json:"longitude"`
	Address       string         `json:"address"`
	UserName      string         `json:"user_name"`
	Phone         string         `json:"phone"`
	PhotoURL      string         `json:"photo_url"`
	EmergencyType string         `json:"emergency_type"`
	Notes         string         `json:"notes"`
	Photos        []photoPayload `json:"photos"`
	Status        string         `json:"status"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	StoppedAt     *time.Time     `json:"stopped_at"`
}

type alertResultResponse struct {
	AlertID  string        `json:"alert_id"`
	IsUpdate bool          `json:"is_update"`
	Alert    alertResponse `json:"alert"`
}

func (h *Handlers) CreateOrUpdateAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	input := alertdomain.Input{
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		Address:       req.Address,
		UserName:      req.UserName,
		Phone:         req.Phone,
		PhotoURL:      req.PhotoURL,
		EmergencyType: req.EmergencyType,
		Notes:         req.Notes,
	}
	for _, p := range req.Photos {
		input.Photos = append(input.Photos, alertdomain.Photo{ID: p.ID, URL: p.URL})
	}

	result, err := h.Alerts.CreateOrUpdate(r.Context(), user.ID, input)
	if err != nil {
		h.alertError(w, "alerts.create_or_update", err, user.ID, "")
		return
	}

	status := http.StatusCreated
	if result.IsUpdate {
		status = http.StatusOK
	}
	writeJSON(w, status, alertResultResponse{
		AlertID:  result.AlertID,
		IsUpdate: result.IsUpdate,
		Alert:    toAlertResponse(result.Alert),
	})
}

func (h *Handlers) GetActiveAlert(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	active, err := h.Alerts.GetActive(r.Context(), user.ID)
	if err != nil {
		h.alertError(w, "alerts.get_active", err, user.ID, "")
		return
	}

	writeJSON(w, http.StatusOK, toAlertResponse(*active))
}

func (h *Handlers) ListMyAlerts(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	alerts, err := h.Alerts.ListByUser(r.Context(), user.ID)
	if err != nil {
		h.alertError(w, "alerts.list_mine", err, user.ID, "")
		return
	}

	writeJSON(w, http.StatusOK, toAlertResponses(alerts))
}

func (h *Handlers) StopAlert(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	alertID, ok := pathParam(w, r, "alert_id")
	if !ok {
		return
	}

	if err := h.Alerts.Stop(r.Context(), user.ID, alertID); err != nil {
		h.alertError(w, "alerts.stop", err, user.ID, alertID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) alertError(w http.ResponseWriter, op string, err error, userID, alertID string) {
	var rateLimited *cooldowndomain.RateLimitError
	switch {
	case errors.As(err, &rateLimited):
		h.log.BusinessError(op+": cooldown active", err, "user_id", userID)
		writeRateLimited(w, rateLimited)
	case errors.Is(err, alertdomain.ErrAlertNotFound):
		h.log.BusinessError(op+": alert not found", err, "user_id", userID, "alert_id", alertID)
		writeError(w, http.StatusNotFound, "alert_not_found", "alert not found")
	case errors.Is(err, alertdomain.ErrForbidden):
		h.log.BusinessError(op+": not the owner", err, "user_id", userID, "alert_id", alertID)
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, alertdomain.ErrInvalidType),
		errors.Is(err, alertdomain.ErrNotesTooLong),
		errors.Is(err, alertdomain.ErrTooManyPhotos),
		errors.Is(err, alertdomain.ErrInvalidPhoto),
		errors.Is(err, alertdomain.ErrInvalidLocation):
		h.log.BusinessError(op+": invalid alert", err, "user_id", userID)
		writeError(w, http.StatusBadRequest, "invalid_alert", err.Error())
	case errors.Is(err, store.ErrContention):
		h.log.InternalError(op+": contention", err, "user_id", userID, "alert_id", alertID)
		writeError(w, http.StatusServiceUnavailable, "busy", "try again")
	default:
		h.log.InternalError(op+": failed", err, "user_id", userID, "alert_id", alertID)
		internalError(w)
	}
}

func toAlertResponse(a alertdomain.Alert) alertResponse {
	photos := make([]photoPayload, 0, len(a.Photos))
	for _, p := range a.Photos {
		photos = append(photos, photoPayload{ID: p.ID, URL: p.URL})
	}
	return alertResponse{
		ID:            a.ID,
		UserID:        a.UserID,
		Latitude:      a.Latitude,
		Longitude:     a.Longitude,
		Address:       a.Address,
		UserName:      a.UserName,
		Phone:         a.Phone,
		PhotoURL:      a.PhotoURL,
		EmergencyType: a.EmergencyType,
		Notes:         a.Notes,
		Photos:        photos,
		Status:        a.Status,
		IsActive:      a.IsActive,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
		StoppedAt:     a.StoppedAt,
	}
}

func toAlertResponses(alerts []alertdomain.Alert) []alertResponse {
	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertResponse(a))
	}
	return out
}
