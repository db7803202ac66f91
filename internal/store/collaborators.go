package store

import (
	"context"
	"time"

	"ridesync/internal/domain"
	"ridesync/internal/repository"
)

// Auth is the session collaborator.
type Auth interface {
	Session() domain.Session
	UpdateProfile(ctx context.Context, patch ProfilePatch) error
	Logout(ctx context.Context) error
}

// ProfilePatch is a partial profile update.
type ProfilePatch struct {
	DriverStatus domain.DriverStatus `json:"driver_status,omitempty"`
}

// Router computes routes through an ordered list of waypoints.
type Router interface {
	CalculateRoute(ctx context.Context, origin, destination domain.Place, waypoints []domain.Place) (*repository.Route, error)
}

// Notifier delivers attention signals to a user.
type Notifier interface {
	SendNotification(ctx context.Context, userID string, n domain.Notification) error
	PlaySound(ctx context.Context, userID, key string) error
}

// PresenceTarget identifies whose positions a presence bridge exchanges.
type PresenceTarget struct {
	UserID string
	Role   domain.Role
	RideID string
	Kind   domain.Kind
}

// Presence streams live positions of both parties of a ride.
type Presence interface {
	Start(ctx context.Context, target PresenceTarget, onDriverMove, onPassengerMove func(domain.Location)) error
	Stop()
}

// Clock abstracts time for the store.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
