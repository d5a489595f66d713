package gateway

import (
	"net/http"

	"github.com/flemzord/parley/internal/provider"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"` // "ok" or "degraded"
	Sessions  int                     `json:"sessions"`
	Providers []provider.HealthStatus `json:"providers,omitempty"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 while at least one provider can take requests, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Sessions: g.assistant.Store().Len(),
		}

		status := http.StatusOK
		if g.health != nil {
			resp.Providers = g.health.Status()
			if err := g.health.HealthCheck(r.Context()); err != nil {
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			}
		}

		writeJSON(w, status, resp)
	}
}
