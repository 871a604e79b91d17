package gateway

import (
	"net/http"
	"time"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime      int64     `json:"uptime_seconds"`
	StartedAt   time.Time `json:"started_at"`
	ArmedTimers int       `json:"armed_timers"`
	Auth        bool      `json:"auth"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			Uptime:      int64(g.deps.Now().Sub(g.startedAt) / time.Second),
			StartedAt:   g.startedAt,
			ArmedTimers: g.deps.Jobs.Armed(),
			Auth:        g.config.Auth.IsConfigured(),
		})
	}
}
