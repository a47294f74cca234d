package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// pathParam returns the trimmed chi URL parameter, writing a 400 when it is empty.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" is required")
		return "", false
	}
	return value, true
}
