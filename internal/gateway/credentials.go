package gateway

import (
	"errors"
	"net/http"

	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/oauthstate"
	"github.com/flemzord/cadence/internal/security"
	"github.com/go-chi/chi/v5"
)

// handleTokenStatus answers GET /api/owners/{owner}/tokens.
func (g *Gateway) handleTokenStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := g.deps.Credentials.TokenStatus(r.Context(), chi.URLParam(r, "owner"))
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type refreshResponse struct {
	OwnerID  string               `json:"owner_id"`
	Results  []credential.Outcome `json:"results"`
	Failures int                  `json:"failures"`
}

// handleRefresh answers POST /api/owners/{owner}/refresh?platform=. A
// per-credential failure is reported in the body, not as an HTTP error.
func (g *Gateway) handleRefresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := chi.URLParam(r, "owner")
		platform := r.URL.Query().Get("platform")
		results, err := g.deps.Credentials.RefreshOwner(r.Context(), owner, platform)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}

		resp := refreshResponse{OwnerID: owner, Results: results}
		for _, o := range results {
			if o.Error != "" {
				resp.Failures++
			}
			if o.Refreshed {
				g.deps.Audit.Log(security.AuditEvent{
					Type:       security.EventRefresh,
					OwnerID:    owner,
					Platform:   o.Platform,
					AccountID:  o.AccountID,
					RemoteAddr: r.RemoteAddr,
				})
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleDisconnect answers DELETE /api/credentials/{platform}/{account}.
func (g *Gateway) handleDisconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		platform, account := chi.URLParam(r, "platform"), chi.URLParam(r, "account")
		if err := g.deps.Credentials.Disconnect(r.Context(), platform, account); err != nil {
			writeError(w, g.logger, err)
			return
		}
		g.deps.Audit.Log(security.AuditEvent{
			Type:       security.EventDisconnect,
			Platform:   platform,
			AccountID:  account,
			RemoteAddr: r.RemoteAddr,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

type authorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// handleAuthorize answers GET /oauth/{platform}/authorize with the consent
// URL for owner_id. redirect_uri must pass the redirect policy; an
// optional account_id is carried through the state to the callback.
func (g *Gateway) handleAuthorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		platform := chi.URLParam(r, "platform")
		q := r.URL.Query()
		owner, redirect := q.Get("owner_id"), q.Get("redirect_uri")
		if owner == "" || redirect == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: "owner_id and redirect_uri are required",
				Kind:  "invalid_request",
			})
			return
		}

		if err := g.deps.Redirects.Check(redirect); err != nil {
			g.deps.Audit.Log(security.AuditEvent{
				Type:       security.EventRedirectBlock,
				OwnerID:    owner,
				Platform:   platform,
				RemoteAddr: r.RemoteAddr,
				Detail:     err.Error(),
			})
			writeError(w, g.logger, err)
			return
		}

		var meta map[string]string
		if acct := q.Get("account_id"); acct != "" {
			meta = map[string]string{"account_id": acct}
		}
		u, err := g.deps.Credentials.Authorize(r.Context(), platform, owner, redirect, meta)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, authorizeResponse{AuthorizeURL: u})
	}
}

// handleCallback answers GET /oauth/{platform}/callback?code=&state=.
func (g *Gateway) handleCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		platform := chi.URLParam(r, "platform")
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "authorization denied: " + e, Kind: "access_denied"})
			return
		}
		code, state := q.Get("code"), q.Get("state")
		if code == "" || state == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "code and state are required", Kind: "invalid_request"})
			return
		}

		cred, err := g.deps.Credentials.Connect(r.Context(), platform, code, state)
		if err != nil {
			if errors.Is(err, oauthstate.ErrInvalidState) {
				g.deps.Audit.Log(security.AuditEvent{
					Type:       security.EventStateRejected,
					Platform:   platform,
					RemoteAddr: r.RemoteAddr,
				})
			}
			writeError(w, g.logger, err)
			return
		}
		g.deps.Audit.Log(security.AuditEvent{
			Type:       security.EventConnect,
			OwnerID:    cred.OwnerID,
			Platform:   cred.Platform,
			AccountID:  cred.AccountID,
			RemoteAddr: r.RemoteAddr,
		})
		writeJSON(w, http.StatusOK, cred)
	}
}
