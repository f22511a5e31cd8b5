package api

import (
	"context"
	"net/http"
	"time"
)

func (a *api) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]string{
		"status": "available",
	})
}

// readyCheckHandler pings the stores the API cannot serve without.
func (a *api) readyCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		a.errorResponse(w, r, 503, "database unavailable")
		return
	}

	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.errorResponse(w, r, 503, "redis unavailable")
		return
	}

	a.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
