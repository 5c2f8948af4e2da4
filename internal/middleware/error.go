package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"catalog-api/internal/domain"
	"catalog-api/internal/images"

	"go.uber.org/zap"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// RespondWithError sends a structured error response
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithErrorDetails(w, statusCode, message, nil)
}

// RespondWithErrorDetails sends a structured error response with additional details
func RespondWithErrorDetails(w http.ResponseWriter, statusCode int, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      http.StatusText(statusCode),
			Message:   message,
			Details:   details,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	json.NewEncoder(w).Encode(response)
}

// RespondWithValidationErrors sends validation error response
func RespondWithValidationErrors(w http.ResponseWriter, errors []ValidationError) {
	details := make(map[string]interface{})
	details["validation_errors"] = errors

	RespondWithErrorDetails(w, http.StatusBadRequest, "validation failed", details)
}

// RespondWithDomainError maps catalog errors to HTTP responses. Client
// errors carry their message; store and filesystem faults are logged and
// answered with a generic message.
func RespondWithDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		RespondWithValidationErrors(w, fromFieldErrors(ve.Fields))
	case errors.Is(err, domain.ErrUnknownCategory):
		RespondWithError(w, http.StatusBadRequest, "unknown category")
	case errors.Is(err, images.ErrEmptyImage):
		RespondWithError(w, http.StatusBadRequest, "no image provided")
	case errors.Is(err, images.ErrInvalidFileName):
		RespondWithError(w, http.StatusBadRequest, "invalid image file name")
	case errors.Is(err, images.ErrUnsupportedType):
		RespondWithError(w, http.StatusUnsupportedMediaType, "unsupported image content type")
	case errors.Is(err, domain.ErrProductNotFound):
		RespondWithError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, domain.ErrProductAlreadyExists):
		RespondWithError(w, http.StatusConflict, "product with this id already exists")
	case errors.Is(err, domain.ErrStoreUnavailable):
		logger.Error("Product store unavailable", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "internal server error")
	default:
		logger.Error("Request failed", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

func fromFieldErrors(fields []domain.FieldError) []ValidationError {
	out := make([]ValidationError, 0, len(fields))
	for _, f := range fields {
		out = append(out, ValidationError{Field: f.Field, Message: f.Message})
	}
	return out
}

// ErrorHandlingMiddleware catches panics and converts them to 500 errors
func ErrorHandlingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
					)

					RespondWithError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}
