package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/flemzord/cadence/internal/job"
	"github.com/flemzord/cadence/internal/security"
	"github.com/go-chi/chi/v5"
)

// handleSchedule answers POST /api/jobs with the created job.
func (g *Gateway) handleSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := g.deps.Payload.MaxSize
		if limit <= 0 {
			limit = security.DefaultMaxPayloadSize
		}
		// Room for the envelope around the payload.
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)+4096))
		if err != nil {
			writeError(w, g.logger, fmt.Errorf("%w: read body: %w", job.ErrInvalid, err))
			return
		}

		var req job.Request
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, g.logger, fmt.Errorf("%w: %w", job.ErrInvalid, err))
			return
		}
		if err := g.deps.Payload.Validate(req.Payload); err != nil {
			writeError(w, g.logger, err)
			return
		}

		j, err := g.deps.Jobs.Schedule(r.Context(), req)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		g.deps.Audit.Log(security.AuditEvent{
			Type:       security.EventJobScheduled,
			OwnerID:    j.OwnerID,
			JobID:      j.ID,
			RemoteAddr: r.RemoteAddr,
			Detail:     string(j.Type),
		})
		writeJSON(w, http.StatusCreated, j)
	}
}

// handleJobStatus answers GET /api/jobs/{id}.
func (g *Gateway) handleJobStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := g.deps.Jobs.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, j)
	}
}

// handleCancel answers DELETE /api/jobs/{id}.
func (g *Gateway) handleCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := g.deps.Jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		g.deps.Audit.Log(security.AuditEvent{
			Type:       security.EventJobCancelled,
			OwnerID:    j.OwnerID,
			JobID:      j.ID,
			RemoteAddr: r.RemoteAddr,
		})
		writeJSON(w, http.StatusOK, j)
	}
}

// handleListJobs answers GET /api/owners/{owner}/jobs?status=&type=.
func (g *Gateway) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := job.Filter{OwnerID: chi.URLParam(r, "owner")}
		q := r.URL.Query()
		if s := q.Get("status"); s != "" {
			st, err := job.ParseStatus(s)
			if err != nil {
				writeError(w, g.logger, err)
				return
			}
			f.Status = st
		}
		if t := q.Get("type"); t != "" {
			typ, err := job.ParseType(t)
			if err != nil {
				writeError(w, g.logger, err)
				return
			}
			f.Type = typ
		}

		jobs, err := g.deps.Jobs.List(r.Context(), f)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		if jobs == nil {
			jobs = []job.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}
