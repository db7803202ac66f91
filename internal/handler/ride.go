package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ridesync/internal/domain"
	"ridesync/internal/fare"
	"ridesync/internal/middleware"
	internalRedis "ridesync/internal/redis"
	"ridesync/internal/repository"
	"ridesync/internal/store"
)

var errRequestInFlight = errors.New("a ride request is already being processed")

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	sessions Sessions
	locks    internalRedis.LockStoreInterface
	lockTTL  time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewRideHandler creates a new RideHandler. locks may be nil.
func NewRideHandler(sessions Sessions, locks internalRedis.LockStoreInterface, lockTTL time.Duration, log logrus.FieldLogger) *RideHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &RideHandler{
		sessions: sessions,
		locks:    locks,
		lockTTL:  lockTTL,
		log:      log.WithField("component", "ride_handler"),
		now:      time.Now,
	}
}

// UpdateStatusRequest is the HTTP request body for a lifecycle transition.
type UpdateStatusRequest struct {
	Status     domain.RideStatus `json:"status" binding:"required"`
	PIN        string            `json:"pin,omitempty"`
	QRPayload  string            `json:"qr_payload,omitempty"`
	ActualFare float64           `json:"actual_fare,omitempty" binding:"gte=0"`
	DriverCash float64           `json:"driver_cash,omitempty" binding:"gte=0"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	Reason string `json:"reason,omitempty"`
}

// WaitFeeResponse is the live wait fee of the current ride.
type WaitFeeResponse struct {
	Active  bool          `json:"active"`
	WaitFee *fare.WaitFee `json:"wait_fee,omitempty"`
}

// PenaltyResponse previews the cost of cancelling the current ride now.
type PenaltyResponse struct {
	Active  bool          `json:"active"`
	Penalty *fare.Penalty `json:"penalty,omitempty"`
}

// rideParams reads and validates the :kind and :id path parameters.
func rideParams(c *gin.Context) (domain.Kind, string, bool) {
	kind := domain.Kind(c.Param("kind"))
	if !kind.Valid() {
		respondError(c, &repository.ValidationError{Field: "kind", Message: "unknown ride kind"})
		return "", "", false
	}
	return kind, c.Param("id"), true
}

// History handles GET /v1/rides/history
func (h *RideHandler) History(c *gin.Context) {
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	if err := s.LoadHistory(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, s.Snapshot().History)
}

// Available handles GET /v1/rides/available
func (h *RideHandler) Available(c *gin.Context) {
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	if err := s.RefreshAvailable(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, s.Snapshot().Available)
}

// RequestRide handles POST /v1/rides
func (h *RideHandler) RequestRide(c *gin.Context) {
	var req repository.CreatePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}

	// The store serializes requests within this process; the lock covers
	// other instances serving the same user.
	if h.locks != nil {
		ctx := c.Request.Context()
		userID := middleware.UserID(c)
		token, err := h.locks.AcquireRequestLock(ctx, userID, h.lockTTL)
		switch {
		case err != nil:
			h.log.WithError(err).WithField("user_id", userID).Warn("request lock unavailable, continuing")
		case token == "":
			respondError(c, errRequestInFlight)
			return
		default:
			defer func() {
				if err := h.locks.ReleaseRequestLock(ctx, userID, token); err != nil {
					h.log.WithError(err).WithField("user_id", userID).Warn("request lock release failed")
				}
			}()
		}
	}

	ride, err := s.RequestRide(c.Request.Context(), req.Kind, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, ride)
}

// AcceptRide handles POST /v1/rides/:kind/:id/accept
func (h *RideHandler) AcceptRide(c *gin.Context) {
	kind, id, ok := rideParams(c)
	if !ok {
		return
	}
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}

	ride, err := s.AcceptRide(c.Request.Context(), kind, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, ride)
}

// UpdateStatus handles POST /v1/rides/:kind/:id/status
func (h *RideHandler) UpdateStatus(c *gin.Context) {
	kind, id, ok := rideParams(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}

	// Transitions always apply to the current ride; the path pins which one
	// the client was looking at.
	if current := s.Current(); current == nil || current.ID != id || current.Kind != kind {
		respondError(c, store.ErrNoActiveRide)
		return
	}

	err := s.UpdateRideStatus(c.Request.Context(), req.Status, repository.TransitionExtra{
		PIN:        req.PIN,
		QRPayload:  req.QRPayload,
		ActualFare: req.ActualFare,
		DriverCash: req.DriverCash,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, s.Snapshot())
}

// CancelRide handles POST /v1/rides/:kind/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	kind, id, ok := rideParams(c)
	if !ok {
		return
	}
	var req CancelRideRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}

	result, err := s.CancelRide(c.Request.Context(), kind, id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, result)
}

// AddStop handles POST /v1/rides/:kind/:id/stops
func (h *RideHandler) AddStop(c *gin.Context) {
	_, id, ok := rideParams(c)
	if !ok {
		return
	}
	var stop domain.Place
	if err := c.ShouldBindJSON(&stop); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	if err := s.AddStop(c.Request.Context(), id, stop); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, s.Current())
}

// DismissRide handles POST /v1/rides/:kind/:id/dismiss
func (h *RideHandler) DismissRide(c *gin.Context) {
	kind, id, ok := rideParams(c)
	if !ok {
		return
	}
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}

	if err := s.DismissRide(kind, id); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, s.Snapshot().Available)
}

// AuthInfo handles GET /v1/rides/current/auth
func (h *RideHandler) AuthInfo(c *gin.Context) {
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	info, err := s.AuthInfo(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, info)
}

// WaitFee handles GET /v1/rides/current/wait-fee
func (h *RideHandler) WaitFee(c *gin.Context) {
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	resp := WaitFeeResponse{}
	if fee, active := s.WaitFee(h.now()); active {
		resp.Active = true
		resp.WaitFee = &fee
	}
	respondJSON(c, http.StatusOK, resp)
}

// Penalty handles GET /v1/rides/current/penalty
func (h *RideHandler) Penalty(c *gin.Context) {
	s, ok := sessionFor(c, h.sessions)
	if !ok {
		return
	}
	resp := PenaltyResponse{}
	if p, active := s.PenaltyPreview(h.now()); active {
		resp.Active = true
		resp.Penalty = &p
	}
	respondJSON(c, http.StatusOK, resp)
}
