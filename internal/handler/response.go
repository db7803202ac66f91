package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridesync/internal/middleware"
	"ridesync/internal/repository"
	"ridesync/internal/session"
	"ridesync/internal/store"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{Error: err.Error()}

	var verr *repository.ValidationError
	if errors.As(err, &verr) {
		resp.Error = verr.Message
		resp.Field = verr.Field
	}
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps store/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Session errors - checked first, an expired session is also a rejection
	case repository.IsSessionExpired(err),
		errors.Is(err, store.ErrLoggedOut):
		return http.StatusUnauthorized

	// Validation errors - Bad Request
	case repository.IsValidation(err):
		return http.StatusBadRequest

	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Ride of another user
	case errors.Is(err, store.ErrNotParticipant):
		return http.StatusForbidden

	// Conflict errors
	case repository.IsBusinessRejection(err),
		errors.Is(err, store.ErrActiveRide),
		errors.Is(err, store.ErrNoActiveRide),
		errors.Is(err, store.ErrNotArrived),
		errors.Is(err, errRequestInFlight):
		return http.StatusConflict

	// Routing provider failure
	case errors.Is(err, store.ErrRouteFailed):
		return http.StatusBadGateway

	// Service unavailable
	case repository.IsTransport(err),
		errors.Is(err, store.ErrClosed),
		errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

// sessionFor resolves the live session of the authenticated user.
func sessionFor(c *gin.Context, sessions Sessions) (*session.Session, bool) {
	s, err := sessions.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}
