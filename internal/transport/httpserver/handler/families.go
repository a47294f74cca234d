package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	familydomain "family-alert-go/internal/domain/family"
	userdomain "family-alert-go/internal/domain/user"
	"family-alert-go/internal/store"
)

type createFamilyRequest struct {
	Name string `json:"name"`
}

type joinFamilyRequest struct {
	Code string `json:"code"`
}

type inviteRequest struct {
	Code       string `json:"code"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type familyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorID string    `json:"creator_id"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

type inviteResponse struct {
	Code      string    `json:"code"`
	FamilyID  string    `json:"family_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handlers) CreateFamily(w http.ResponseWriter, r *http.Request) {
	var req createFamilyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	result, err := h.Families.CreateFamily(r.Context(), user.ID, req.Name)
	if err != nil {
		h.familyError(w, "families.create", err, user.ID, "")
		return
	}

	writeJSON(w, http.StatusCreated, toFamilyResponse(result))
}

func (h *Handlers) GetFamily(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	familyID, ok := pathParam(w, r, "family_id")
	if !ok {
		return
	}

	result, err := h.Families.MemberFamily(r.Context(), familyID, user.ID)
	if err != nil {
		h.familyError(w, "families.get", err, user.ID, familyID)
		return
	}

	writeJSON(w, http.StatusOK, toFamilyResponse(result))
}

func (h *Handlers) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	// the body is optional
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ttl_seconds must not be negative")
		return
	}

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	familyID, ok := pathParam(w, r, "family_id")
	if !ok {
		return
	}

	var (
		invite *familydomain.InviteCode
		err    error
	)
	if strings.TrimSpace(req.Code) == "" {
		invite, err = h.Families.NewInviteCode(r.Context(), familyID, user.ID)
	} else {
		ttl := time.Duration(req.TTLSeconds) * time.Second
		invite, err = h.Families.IssueInviteCode(r.Context(), familyID, user.ID, req.Code, ttl)
	}
	if err != nil {
		h.familyError(w, "families.invite", err, user.ID, familyID)
		return
	}

	writeJSON(w, http.StatusCreated, inviteResponse{
		Code:      invite.Code,
		FamilyID:  invite.FamilyID,
		ExpiresAt: invite.ExpiresAt,
	})
}

func (h *Handlers) JoinFamily(w http.ResponseWriter, r *http.Request) {
	var req joinFamilyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	result, err := h.Families.RedeemInviteCode(r.Context(), user.ID, req.Code)
	if err != nil {
		h.familyError(w, "families.join", err, user.ID, "")
		return
	}

	writeJSON(w, http.StatusOK, toFamilyResponse(result))
}

func (h *Handlers) LeaveFamily(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	familyID, ok := pathParam(w, r, "family_id")
	if !ok {
		return
	}

	if err := h.Families.LeaveFamily(r.Context(), user.ID, familyID); err != nil {
		h.familyError(w, "families.leave", err, user.ID, familyID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RemoveFamilyMember(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	familyID, ok := pathParam(w, r, "family_id")
	if !ok {
		return
	}
	memberID, ok := pathParam(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.Families.RemoveMember(r.Context(), user.ID, familyID, memberID); err != nil {
		h.familyError(w, "families.remove_member", err, user.ID, familyID, "member_id", memberID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) familyError(w http.ResponseWriter, op string, err error, userID, familyID string, args ...any) {
	args = append([]any{"user_id", userID, "family_id", familyID}, args...)
	status, code := familyErrorStatus(err)
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		h.log.InternalError(op+": failed", err, args...)
	} else {
		h.log.BusinessError(op+": "+code, err, args...)
	}
	if status == http.StatusInternalServerError {
		internalError(w)
		return
	}
	writeError(w, status, code, err.Error())
}

func familyErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, familydomain.ErrFamilyNotFound):
		return http.StatusNotFound, "family_not_found"
	case errors.Is(err, familydomain.ErrInviteNotFound):
		return http.StatusNotFound, "invite_not_found"
	case errors.Is(err, familydomain.ErrMemberNotFound):
		return http.StatusNotFound, "member_not_found"
	case errors.Is(err, userdomain.ErrProfileNotFound):
		return http.StatusNotFound, "profile_not_found"
	case errors.Is(err, familydomain.ErrInviteExpired):
		return http.StatusGone, "invite_expired"
	case errors.Is(err, familydomain.ErrFamilyFull):
		return http.StatusConflict, "family_full"
	case errors.Is(err, familydomain.ErrAlreadyMember):
		return http.StatusConflict, "already_member"
	case errors.Is(err, familydomain.ErrAlreadyInFamily):
		return http.StatusConflict, "already_in_family"
	case errors.Is(err, familydomain.ErrInviteCodeTaken):
		return http.StatusConflict, "invite_code_taken"
	case errors.Is(err, familydomain.ErrCannotRemoveCreator):
		return http.StatusConflict, "cannot_remove_creator"
	case errors.Is(err, familydomain.ErrForbidden), errors.Is(err, familydomain.ErrNotMember):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, familydomain.ErrInvalidName):
		return http.StatusBadRequest, "invalid_name"
	case errors.Is(err, familydomain.ErrInvalidInviteCode):
		return http.StatusBadRequest, "invalid_invite_code"
	case errors.Is(err, store.ErrContention):
		return http.StatusServiceUnavailable, "busy"
	}
	return http.StatusInternalServerError, "internal_error"
}

func toFamilyResponse(f *familydomain.Family) familyResponse {
	members := f.Members
	if members == nil {
		members = []string{}
	}
	return familyResponse{
		ID:        f.ID,
		Name:      f.Name,
		CreatorID: f.CreatorID,
		Members:   members,
		CreatedAt: f.CreatedAt,
	}
}
