package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

func (a *api) errorResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("X-Socializer-Error", message)
	http.Error(w, message, status)
}

// repositoryError maps storage errors onto response codes.
func (a *api) repositoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.errorResponse(w, r, 404, "not found")
	case errors.Is(err, domain.ErrConflict):
		a.errorResponse(w, r, 409, "already exists")
	default:
		a.errorResponse(w, r, 500, err.Error())
	}
}

func (a *api) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
