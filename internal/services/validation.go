package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/ruralpay/ledger/internal/apperror"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Kind    apperror.Kind     `json:"kind,omitempty"`    // Error kind for programmatic handling
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	v := validator.New()
	_ = v.RegisterValidation("account_number", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) < 6 || len(s) > 20 {
			return false
		}
		_, err := strconv.ParseUint(s, 10, 64)
		return err == nil
	})
	return &ValidationHelper{validator: v}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Kind = apperror.KindValidation
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, ErrIdempotencyKeyReused) {
		return http.StatusUnprocessableEntity
	}
	switch apperror.KindOf(err) {
	case apperror.KindValidation, apperror.KindInsufficientFunds:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindDuplicate:
		return http.StatusConflict
	case apperror.KindExhausted:
		return http.StatusServiceUnavailable
	}
	if apperror.IsOverloaded(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteError renders err as an ErrorResponse. Internal details are not
// exposed to the caller.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	kind := apperror.KindOf(err)

	message := "Internal server error"
	var e *apperror.Error
	if errors.As(err, &e) && kind != apperror.KindInternal {
		message = e.Message
	} else if status == http.StatusServiceUnavailable {
		message = "Service overloaded, retry later"
	}

	if apperror.IsRetriable(err) {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Kind: kind})
}
