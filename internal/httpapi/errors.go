package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps an error to its HTTP status. Named state violations come
// first, then the error kind.
func statusFor(err error) int {
	switch {
	case errs.IsBusy(err):
		return http.StatusTooManyRequests
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errs.IsInvalid(err):
		return http.StatusBadRequest
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	switch errs.KindOf(err) {
	case errs.KindTransientInfra:
		return http.StatusServiceUnavailable
	case errs.KindFatalPermission:
		return http.StatusForbidden
	case errs.KindResourceExhaustion:
		return http.StatusInsufficientStorage
	case errs.KindIntegrityFailure:
		return http.StatusUnprocessableEntity
	case errs.KindStateViolation:
		return http.StatusConflict
	case errs.KindCancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// writeError writes err with its mapped status and kind.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("busy")
	}
	writeJSON(w, status, types.ErrorResponse{Error: err.Error(), Code: status, Kind: string(errs.KindOf(err))})
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
