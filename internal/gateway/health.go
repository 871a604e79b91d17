package gateway

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"
)

const healthTimeout = 3 * time.Second

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status string            `json:"status"` // "ok" or "degraded"
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth returns 200 when every dependency answers, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if g.deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()

			results := g.deps.Health(ctx)
			resp.Checks = make(map[string]string, len(results))
			for _, id := range slices.Sorted(maps.Keys(results)) {
				if err := results[id]; err != nil {
					resp.Checks[id] = err.Error()
					resp.Status = "degraded"
					continue
				}
				resp.Checks[id] = "ok"
			}
		}

		status := http.StatusOK
		if resp.Status == "degraded" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
