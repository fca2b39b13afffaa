package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"
	"go.uber.org/zap"

	"github.com/shomaj/neighborhood-client/internal/app/location"
	"github.com/shomaj/neighborhood-client/internal/domain"
)

// ErrorResponse is the envelope every non-2xx response carries.
type ErrorResponse struct {
	Error struct {
		Code      string                            `json:"code"`
		Message   string                            `json:"message"`
		Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
		RequestId nullable.Nullable[string]         `json:"requestId,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(details)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestId = nullable.NewNullableWithValue(rid)
	}
	writeJSON(w, status, er)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a core error to an HTTP status by kind. Superseded results
// are a conflict regardless of kind.
func statusFor(err error) int {
	switch domain.CodeOf(err) {
	case "superseded", "profile_pending":
		return http.StatusConflict
	}
	switch domain.KindOf(err) {
	case domain.KindCredentialRejected:
		return http.StatusUnauthorized
	case domain.KindNetworkUnreachable:
		return http.StatusServiceUnavailable
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err using its kind, code and fields. Location
// fallbacks add the step detection stopped at.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeDomainErrorWith(w, r, err, nil)
}

// writeDomainErrorWith is writeDomainError with extra entries merged into details.
func (s *Server) writeDomainErrorWith(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	status := statusFor(err)
	code := domain.CodeOf(err)
	if code == "" {
		code = string(domain.KindOf(err))
	}

	var details map[string]any
	var de *domain.Error
	if errors.As(err, &de) && len(de.Fields) > 0 {
		details = map[string]any{"fields": de.Fields}
	}
	var fe *location.FallbackError
	if errors.As(err, &fe) {
		if details == nil {
			details = map[string]any{}
		}
		details["step"] = string(fe.Step)
		details["mode"] = "manual"
	}
	for k, v := range extra {
		if details == nil {
			details = map[string]any{}
		}
		details[k] = v
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		message = "internal error"
	} else {
		s.log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	if de != nil && de.Message != "" && status != http.StatusInternalServerError {
		message = de.Message
	}
	writeError(w, r, status, code, message, details)
}
