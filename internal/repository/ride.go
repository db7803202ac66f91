package repository

import (
	"context"
	"time"

	"ridesync/internal/domain"
	"ridesync/internal/fare"
)

// RideRepository defines the kind-agnostic lifecycle operations for rides.
// Every implementation returns canonical rides and the typed errors in errors.go.
type RideRepository interface {
	// Create inserts a new ride in its initial status.
	Create(ctx context.Context, kind domain.Kind, payload CreatePayload) (*domain.Ride, error)

	// FetchByID retrieves a ride by ID within its kind.
	FetchByID(ctx context.Context, id string, kind domain.Kind) (*domain.Ride, error)

	// ListForUser retrieves the rides of a user across every kind, newest first.
	ListForUser(ctx context.Context, userID string, role domain.Role) ([]*domain.Ride, error)

	// ListAvailableForDriver retrieves the open requests a driver may accept.
	ListAvailableForDriver(ctx context.Context, driverID string) ([]*domain.Ride, error)

	// Accept attempts to assign the ride to the driver.
	Accept(ctx context.Context, id string, kind domain.Kind, driverID string) (*AcceptResult, error)

	// Transition moves the ride to the target status.
	Transition(ctx context.Context, id string, kind domain.Kind, target domain.RideStatus, extra TransitionExtra) error

	// Cancel cancels the ride on behalf of actorID acting as actor. The
	// backend declines when actorID is not a party to the ride.
	Cancel(ctx context.Context, id string, kind domain.Kind, reason string, actor domain.Role, actorID string) (*CancelResult, error)

	// AddStop appends a stop together with the recomputed route.
	AddStop(ctx context.Context, id string, kind domain.Kind, stop domain.Place, route Route) error

	// GetAuthInfo retrieves the PIN and QR proof material for a ride.
	GetAuthInfo(ctx context.Context, id string, kind domain.Kind) (*AuthInfo, error)
}

// ProfileRepository defines the persistence operations for user profiles.
type ProfileRepository interface {
	// GetSession loads the role and driver status of a user.
	GetSession(ctx context.Context, userID string) (*domain.Session, error)

	// UpdateDriverStatus updates the availability of a driver.
	UpdateDriverStatus(ctx context.Context, userID string, status domain.DriverStatus) error
}

// CreatePayload is the input of a ride request.
type CreatePayload struct {
	ID            string               `json:"id,omitempty"`
	PassengerID   string               `json:"passenger_id" validate:"required"`
	Origin        domain.Place         `json:"origin"`
	Destination   *domain.Place        `json:"destination,omitempty" validate:"required_unless=Kind hourly"`
	Stops         []domain.Place       `json:"stops,omitempty" validate:"dive"`
	EstimatedFare float64              `json:"estimated_fare" validate:"gt=0"`
	PaymentMethod domain.PaymentMethod `json:"payment_method" validate:"omitempty,oneof=cash card wallet"`
	PrepaidAmount float64              `json:"prepaid_amount" validate:"gte=0"`
	VehicleType   string               `json:"vehicle_type,omitempty"`
	DistanceKm    float64              `json:"distance_km" validate:"gte=0"`
	DurationMin   float64              `json:"duration_min" validate:"gte=0"`

	// Kind-specific inputs.
	Kind        domain.Kind            `json:"kind" validate:"required,oneof=immediate scheduled hourly package"`
	ScheduledAt *time.Time             `json:"scheduled_at,omitempty" validate:"required_if=Kind scheduled"`
	Hours       float64                `json:"hours,omitempty" validate:"required_if=Kind hourly,gte=0"`
	Package     *domain.PackageDetails `json:"package,omitempty" validate:"required_if=Kind package"`
}

// Route is the summary returned by the routing collaborator.
type Route struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
	Geometry    string  `json:"geometry,omitempty"`
}

// TransitionExtra carries the inputs of the specialized transitions.
type TransitionExtra struct {
	PIN        string  `json:"pin,omitempty"`
	QRPayload  string  `json:"qr_payload,omitempty"`
	ActualFare float64 `json:"actual_fare,omitempty"`
	DriverCash float64 `json:"driver_cash,omitempty"`
}

// AcceptResult is the outcome of an accept attempt that reached the backend.
type AcceptResult struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Ride    *domain.Ride `json:"ride,omitempty"`
}

// CancelResult is the outcome of a cancellation applied by the backend.
type CancelResult struct {
	Message string        `json:"message"`
	Penalty *fare.Penalty `json:"penalty,omitempty"`
}

// AuthInfo is the proof material a passenger shows to start a ride.
type AuthInfo struct {
	PIN       string `json:"pin"`
	QRPayload string `json:"qr_payload"`
}

// AuthInfoCache is a shared memo for proof material. Get returns nil, nil on
// a miss.
type AuthInfoCache interface {
	GetAuthInfo(ctx context.Context, kind domain.Kind, id string) (*AuthInfo, error)
	SetAuthInfo(ctx context.Context, kind domain.Kind, id string, info *AuthInfo) error
	InvalidateAuthInfo(ctx context.Context, kind domain.Kind, id string) error
}
