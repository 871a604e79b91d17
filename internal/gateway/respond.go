package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/flemzord/cadence/internal/connector"
	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/job"
	"github.com/flemzord/cadence/internal/oauthstate"
	"github.com/flemzord/cadence/internal/security"
)

// errorResponse is the JSON body of every non-2xx answer.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes. Unclassified errors
// are logged and answered with a generic 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("gateway: request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, job.ErrPastFireTime):
		return http.StatusBadRequest, "past_fire_time"
	case errors.Is(err, job.ErrInvalid),
		errors.Is(err, job.ErrUnknownType),
		errors.Is(err, security.ErrPayloadTooLarge),
		errors.Is(err, security.ErrJSONTooDeep),
		errors.Is(err, security.ErrInvalidJSON):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, security.ErrRedirectBlocked):
		return http.StatusBadRequest, "redirect_blocked"
	case errors.Is(err, oauthstate.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, job.ErrNotFoundOrTerminal):
		return http.StatusConflict, "not_found_or_terminal"
	case errors.Is(err, job.ErrNotFound),
		errors.Is(err, credential.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, connector.ErrUnknownPlatform):
		return http.StatusNotFound, "unknown_platform"
	case errors.Is(err, job.ErrConflict),
		errors.Is(err, credential.ErrDisconnected):
		return http.StatusConflict, "conflict"
	case errors.Is(err, credential.ErrFlowDisabled):
		return http.StatusNotImplemented, "flow_disabled"
	case errors.Is(err, credential.ErrRefreshFailed),
		errors.Is(err, connector.ErrNoRefreshToken):
		return http.StatusBadGateway, "refresh_failed"
	}
	var se *connector.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway, "platform_error"
	}
	return http.StatusInternalServerError, "internal"
}
