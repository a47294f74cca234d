package handler

import (
	"errors"
	"net/http"
	"time"

	userdomain "family-alert-go/internal/domain/user"
)

type updateProfileRequest struct {
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	PhotoURL *string `json:"photo_url"`
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type presenceRequest struct {
	Online *bool `json:"online"`
}

type contactsRequest struct {
	Contacts []contactPayload `json:"contacts"`
}

type contactPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type locationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type profileResponse struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Email              string           `json:"email"`
	Phone              string           `json:"phone"`
	PhotoURL           string           `json:"photo_url"`
	FamilyID           *string          `json:"family_id"`
	Location           *locationPayload `json:"location"`
	IsOnline           bool             `json:"is_online"`
	LastLocationUpdate *time.Time       `json:"last_location_update"`
	CooldownEnd        *time.Time       `json:"cooldown_end"`
	NextNameChangeAt   *time.Time       `json:"next_name_change_at"`
	EmergencyContacts  []contactPayload `json:"emergency_contacts"`
	CreatedAt          time.Time        `json:"created_at"`
}

func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	profile, err := h.Profiles.GetProfile(r.Context(), user.ID)
	if err != nil {
		h.profileError(w, "profile.get", err, user.ID)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile, time.Now()))
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	profile, err := h.Profiles.UpdateProfile(r.Context(), user.ID, userdomain.ProfileUpdate{
		Name:     req.Name,
		Phone:    req.Phone,
		PhotoURL: req.PhotoURL,
	})
	if err != nil {
		h.profileError(w, "profile.update", err, user.ID)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile, time.Now()))
}

func (h *Handlers) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "latitude and longitude are required")
		return
	}

	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	location := userdomain.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := h.Profiles.UpdateLocation(r.Context(), user.ID, location); err != nil {
		h.profileError(w, "profile.location", err, user.ID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SetPresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	if req.Online == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "online is required")
		return
	}

	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.Profiles.SetOnline(r.Context(), user.ID, *req.Online); err != nil {
		h.profileError(w, "profile.presence", err, user.ID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SetEmergencyContacts(w http.ResponseWriter, r *http.Request) {
	var req contactsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	contacts := make([]userdomain.EmergencyContact, 0, len(req.Contacts))
	for _, c := range req.Contacts {
		contacts = append(contacts, userdomain.EmergencyContact{Name: c.Name, Email: c.Email})
	}

	saved, err := h.Profiles.SetEmergencyContacts(r.Context(), user.ID, contacts)
	if err != nil {
		h.profileError(w, "profile.contacts", err, user.ID)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]contactPayload{"contacts": toContactPayloads(saved)})
}

func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.Profiles.DeleteAccount(r.Context(), user.ID); err != nil {
		h.profileError(w, "profile.delete", err, user.ID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) profileError(w http.ResponseWriter, op string, err error, userID string) {
	switch {
	case errors.Is(err, userdomain.ErrProfileNotFound):
		h.log.BusinessError(op+": profile not found", err, "user_id", userID)
		writeError(w, http.StatusNotFound, "profile_not_found", "profile not found")
	case errors.Is(err, userdomain.ErrNameChangeTooSoon):
		h.log.BusinessError(op+": name change too soon", err, "user_id", userID)
		writeError(w, http.StatusConflict, "name_change_too_soon", err.Error())
	case errors.Is(err, userdomain.ErrInvalidName):
		h.log.BusinessError(op+": invalid name", err, "user_id", userID)
		writeError(w, http.StatusBadRequest, "invalid_name", "invalid name")
	case errors.Is(err, userdomain.ErrInvalidLocation):
		h.log.BusinessError(op+": invalid location", err, "user_id", userID)
		writeError(w, http.StatusBadRequest, "invalid_location", "invalid location")
	case errors.Is(err, userdomain.ErrTooManyContacts):
		h.log.BusinessError(op+": too many contacts", err, "user_id", userID)
		writeError(w, http.StatusBadRequest, "too_many_contacts", err.Error())
	case errors.Is(err, userdomain.ErrInvalidContact):
		h.log.BusinessError(op+": invalid contact", err, "user_id", userID)
		writeError(w, http.StatusBadRequest, "invalid_contact", err.Error())
	default:
		h.log.InternalError(op+": failed", err, "user_id", userID)
		internalError(w)
	}
}

func toProfileResponse(p *userdomain.Profile, now time.Time) profileResponse {
	resp := profileResponse{
		ID:                 p.ID,
		Name:               p.Name,
		Email:              p.Email,
		Phone:              p.Phone,
		PhotoURL:           p.PhotoURL,
		FamilyID:           p.FamilyID,
		IsOnline:           p.IsOnline,
		LastLocationUpdate: p.LastLocationUpdate,
		CooldownEnd:        p.CooldownEnd,
		NextNameChangeAt:   userdomain.NextNameChange(p, now),
		EmergencyContacts:  toContactPayloads(p.EmergencyContacts),
		CreatedAt:          p.CreatedAt,
	}
	if p.Location != nil {
		resp.Location = &locationPayload{Latitude: p.Location.Latitude, Longitude: p.Location.Longitude}
	}
	return resp
}

func toContactPayloads(contacts []userdomain.EmergencyContact) []contactPayload {
	out := make([]contactPayload, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, contactPayload{Name: c.Name, Email: c.Email})
	}
	return out
}
