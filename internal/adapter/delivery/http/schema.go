package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vadimbarashkov/short-url-service/internal/entity"
)

const (
	statusError = "error"
	timeLayout  = "2006-01-02T15:04:05Z"
)

// urlRequest represents the structure for a request to shorten or modify a URL.
type urlRequest struct {
	URL string `json:"url" validate:"required"`
}

// urlResponse represents the structure for a response containing shortened URL information.
type urlResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ShortCode string `json:"shortCode"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// toURLResponse converts an entity.URL to a urlResponse.
func toURLResponse(url *entity.URL) urlResponse {
	return urlResponse{
		ID:        strconv.FormatInt(url.ID, 10),
		URL:       url.OriginalURL,
		ShortCode: url.ShortCode,
		CreatedAt: formatTime(url.CreatedAt),
		UpdatedAt: formatTime(url.UpdatedAt),
	}
}

// urlStatsResponse extends urlResponse with access statistics.
type urlStatsResponse struct {
	urlResponse
	AccessCount int64 `json:"accessCount"`
}

// toURLStatsResponse converts an entity.URL to a urlStatsResponse.
func toURLStatsResponse(url *entity.URL) urlStatsResponse {
	return urlStatsResponse{
		urlResponse: toURLResponse(url),
		AccessCount: url.AccessCount,
	}
}

// validationError represents an individual validation error.
type validationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// errorResponse represents a structured error response.
type errorResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Errors  []validationError `json:"errors,omitempty"`
}

// Predefined error responses for common scenarios.
var (
	emptyRequestBodyResponse = errorResponse{
		Status:  statusError,
		Message: "empty request body",
	}

	invalidRequestBodyResponse = errorResponse{
		Status:  statusError,
		Message: "invalid request body",
	}

	urlNotFoundResponse = errorResponse{
		Status:  statusError,
		Message: "url not found",
	}

	serverErrorResponse = errorResponse{
		Status:  statusError,
		Message: "server error occurred",
	}
)

// messageForTag returns a user-friendly message based on the validation tag.
func messageForTag(tag string) string {
	switch tag {
	case "required":
		return "this field is required"
	default:
		return "invalid value"
	}
}

// getValidationErrors processes validation errors and returns a list of validationError.
func getValidationErrors(err error) []validationError {
	var validationErrs []validationError

	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		for _, e := range errs {
			validationErrs = append(validationErrs, validationError{
				Field:   e.Field(),
				Message: messageForTag(e.Tag()),
			})
		}
	}

	return validationErrs
}

// validationErrorResponse constructs an errorResponse for validation errors.
func validationErrorResponse(err error) errorResponse {
	return errorResponse{
		Status:  statusError,
		Message: "validation error",
		Errors:  getValidationErrors(err),
	}
}

// invalidURLResponse is returned when the use case rejects the URL itself.
var invalidURLResponse = errorResponse{
	Status:  statusError,
	Message: "validation error",
	Errors: []validationError{
		{Field: "url", Message: messageForTag("required")},
	},
}
