package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/parley/internal/conversation"
	"github.com/flemzord/parley/internal/provider"
)

// sessionResponse is the JSON view of one user's conversation.
type sessionResponse struct {
	UserID string              `json:"user_id"`
	Turns  []conversation.Turn `json:"turns"`
	Cost   int                 `json:"cost"`
	Budget int                 `json:"budget"`
}

// handleGetSession returns the retained turns of a user.
func (g *Gateway) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		store := g.assistant.Store()

		turns := store.Turns(user)
		if turns == nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{
			UserID: user,
			Turns:  turns,
			Cost:   store.Cost(user),
			Budget: store.Budget(),
		})
	}
}

// handleDeleteSession clears a user's conversation memory.
func (g *Gateway) handleDeleteSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.assistant.ClearMemory(chi.URLParam(r, "user"))
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleGetUsage returns a user's recorded token totals.
func (g *Gateway) handleGetUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		totals, err := g.usage.Totals(r.Context(), chi.URLParam(r, "user"))
		if err != nil {
			g.logger.Error("gateway: usage lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "usage lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, totals)
	}
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Sessions      int                     `json:"sessions"`
	Budget        int                     `json:"budget"`
	Model         string                  `json:"model,omitempty"`
	Providers     []provider.HealthStatus `json:"providers,omitempty"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		store := g.assistant.Store()
		resp := StatusResponse{
			UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
			Sessions:      store.Len(),
			Budget:        store.Budget(),
		}
		if g.health != nil {
			resp.Providers = g.health.Status()
			if len(resp.Providers) > 0 {
				resp.Model = resp.Providers[0].Model
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
