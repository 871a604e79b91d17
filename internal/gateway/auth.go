package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/flemzord/cadence/internal/security"
	"golang.org/x/time/rate"
)

// authMiddleware validates Bearer token or Basic auth credentials using
// constant-time comparison. Failures are written to the audit log. When
// limiter is non-nil, failed attempts spend from it and a drained limiter
// answers 429 before any credential is checked.
func authMiddleware(cfg AuthConfig, audit *security.AuditLogger, limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && limiter.Tokens() < 1 {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}

			if authorized(cfg, r) {
				next.ServeHTTP(w, r)
				return
			}

			if limiter != nil {
				limiter.Allow()
			}
			detail := "invalid credentials"
			if r.Header.Get("Authorization") == "" {
				detail = "missing authorization header"
			}
			audit.Log(security.AuditEvent{
				Type:       security.EventAuthFailure,
				RemoteAddr: r.RemoteAddr,
				Detail:     detail,
				Metadata: map[string]string{
					"method": r.Method,
					"path":   r.URL.Path,
				},
			})
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func authorized(cfg AuthConfig, r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return false
	}
	if cfg.BearerToken != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok && constantTimeEqual(after, cfg.BearerToken) {
			return true
		}
	}
	if cfg.BasicUser != "" && cfg.BasicPass != "" {
		user, pass, ok := r.BasicAuth()
		if ok && constantTimeEqual(user, cfg.BasicUser) && constantTimeEqual(pass, cfg.BasicPass) {
			return true
		}
	}
	return false
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
