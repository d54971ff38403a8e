// Package httpapi exposes the service over JSON HTTP. It is the only
// layer that maps taxonomy error codes onto HTTP statuses.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	ErrorCode  string                 `json:"error_code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RetryAfter int                    `json:"retry_after,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Path       string                 `json:"path"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err in the error envelope. Internal vector contract
// violations are masked as plain internal errors so their category never
// leaks to clients.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := apperrors.HTTPStatus(code)

	env := errorEnvelope{
		ErrorCode: string(code),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		Path:      r.URL.Path,
	}
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		env.Message = ae.Message
		env.Details = ae.Details
	}
	if code == apperrors.CodeDimensionMismatch || code == apperrors.CodeShape {
		env.ErrorCode = string(apperrors.CodeInternal)
		env.Message = "internal error"
		env.Details = nil
	}
	if retry := apperrors.RetryAfterOf(err); retry > 0 {
		secs := int(retry.Seconds())
		if secs < 1 {
			secs = 1
		}
		env.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	if status >= 500 {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(code)),
			zap.Error(err),
		)
	} else {
		s.logger.Warn("Request rejected",
			zap.String("path", r.URL.Path),
			zap.String("code", string(code)),
		)
	}
	writeJSON(w, status, env)
}

// decodeBody parses a JSON request body into dst with basic guards.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return apperrors.New(apperrors.CodeValidation, "request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "invalid request body", err)
	}
	return nil
}
