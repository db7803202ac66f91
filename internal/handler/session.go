package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridesync/internal/domain"
	"ridesync/internal/middleware"
	"ridesync/internal/session"
)

// Sessions resolves the live session of a user.
type Sessions interface {
	Get(ctx context.Context, userID string) (*session.Session, error)
	Logout(ctx context.Context, userID string) error
}

// SessionHandler handles HTTP requests about the session itself.
type SessionHandler struct {
	sessions Sessions
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions Sessions) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// SetOnlineRequest is the HTTP request body for toggling connectivity.
type SetOnlineRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// SetDriverStatusRequest is the HTTP request body for driver availability.
type SetDriverStatusRequest struct {
	Status domain.DriverStatus `json:"status" binding:"required,oneof=available offline"`
}

// LocationRequest is the HTTP request body for a position update.
type LocationRequest struct {
	Lat     *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng     *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
	Heading float64  `json:"heading" binding:"gte=0,lt=360"`
}

// Get handles GET /v1/session
func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	respondJSON(c, http.StatusOK, s.Snapshot())
}

// SetOnline handles POST /v1/session/online
func (h *SessionHandler) SetOnline(c *gin.Context) {
	var req SetOnlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	if err := s.SetOnline(c.Request.Context(), *req.Online); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, s.Snapshot())
}

// SetDriverStatus handles POST /v1/session/driver-status
func (h *SessionHandler) SetDriverStatus(c *gin.Context) {
	var req SetDriverStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	if err := s.SetDriverStatus(c.Request.Context(), req.Status); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, s.Snapshot())
}

// PublishLocation handles POST /v1/session/location
func (h *SessionHandler) PublishLocation(c *gin.Context) {
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	loc := domain.Location{Lat: *req.Lat, Lng: *req.Lng, Heading: req.Heading, UpdatedAt: time.Now()}
	if err := s.PublishLocation(c.Request.Context(), loc); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Logout handles POST /v1/session/logout
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context(), middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
