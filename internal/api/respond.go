package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/i18n"
	"github.com/theory-cloud/storefront/pkg/protection"
)

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// classify maps an error to its HTTP status and message key. Field is set for validation
// failures.
func classify(err error) (status int, key, field string) {
	if ve, ok := serrors.AsValidation(err); ok {
		return http.StatusBadRequest, ve.Key, ve.Field
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || protection.GetResourceProtectionType(err) == "BodyTooLarge" {
		return http.StatusRequestEntityTooLarge, "error.request_too_large", ""
	}

	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "error.bad_request", ""
	case errors.Is(err, serrors.ErrInvalidPhoneNumber):
		return http.StatusBadRequest, "error.invalid_phone", "phone"
	case errors.Is(err, serrors.ErrTooManyRequests):
		return http.StatusTooManyRequests, "error.too_many_requests", ""
	case errors.Is(err, serrors.ErrInvalidCode):
		return http.StatusBadRequest, "error.invalid_code", "code"
	case errors.Is(err, serrors.ErrChallengeExpired):
		return http.StatusBadRequest, "error.code_expired", "code"
	case errors.Is(err, serrors.ErrNoPendingCode):
		return http.StatusBadRequest, "error.no_pending_code", ""
	case errors.Is(err, serrors.ErrAlreadyVerified):
		return http.StatusConflict, "error.already_verified", ""
	case errors.Is(err, serrors.ErrBotCheckFailed):
		return http.StatusBadRequest, "error.bot_check", ""
	case errors.Is(err, serrors.ErrVerificationFailed):
		return http.StatusBadGateway, "error.verification_failed", ""
	case errors.Is(err, serrors.ErrUnauthorized):
		return http.StatusUnauthorized, "error.unauthorized", ""
	case errors.Is(err, serrors.ErrInvalidCredentials):
		return http.StatusUnauthorized, "error.invalid_credentials", ""
	case errors.Is(err, serrors.ErrForbidden):
		return http.StatusForbidden, "error.forbidden", ""
	case errors.Is(err, serrors.ErrPhoneTaken):
		return http.StatusConflict, "error.phone_taken", "phone"
	case errors.Is(err, serrors.ErrEmailTaken):
		return http.StatusConflict, "error.email_taken", "email"
	case errors.Is(err, serrors.ErrInvalidTransition):
		return http.StatusConflict, "error.invalid_transition", "status"
	case serrors.IsNotFound(err):
		return http.StatusNotFound, "error.not_found", ""
	}

	if pe, ok := serrors.AsPersistence(err); ok {
		switch {
		case errors.Is(pe, serrors.ErrAccessDenied):
			return http.StatusForbidden, "error.forbidden", ""
		case errors.Is(pe, serrors.ErrConditionFailed) && pe.Op == "UpdateOrderStatus":
			return http.StatusConflict, "error.invalid_transition", "status"
		case strings.HasPrefix(pe.Op, "CreateOrder"):
			return http.StatusServiceUnavailable, "error.persistence", ""
		}
		return http.StatusServiceUnavailable, "error.unavailable", ""
	}
	return http.StatusInternalServerError, "error.internal", ""
}

// errBadRequest marks a body that could not be decoded
var errBadRequest = errors.New("malformed request body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs server-side failures and writes the localized error body
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, key, field := classify(err)
	if status >= http.StatusInternalServerError {
		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err),
		}
		if pe, ok := serrors.AsPersistence(err); ok {
			attrs = append(attrs, slog.String("op", pe.Op), slog.String("collection", pe.Collection))
		}
		s.logger.ErrorContext(r.Context(), "request failed", attrs...)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    key,
		Message: s.messages.Message(i18n.FromRequest(r), key),
		Field:   field,
	}})
}

// decodeJSON reads a JSON body into dst. Unknown fields are ignored.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	body, err := s.Protector.SecureBodyReader(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errBadRequest
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
