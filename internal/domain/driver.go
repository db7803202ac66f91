package domain

// Role is the kind of user a session belongs to.
type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
	RoleAdmin     Role = "admin"
)

// DriverStatus represents the availability of a driver.
type DriverStatus string

const (
	DriverStatusAvailable DriverStatus = "available"
	DriverStatusOnTrip    DriverStatus = "on_trip"
	DriverStatusOffline   DriverStatus = "offline"
)

// Session describes the authenticated user a store works for.
type Session struct {
	UserID       string       `json:"user_id"`
	Role         Role         `json:"role"`
	DriverStatus DriverStatus `json:"driver_status,omitempty"`
}

// IsAvailableDriver reports whether the session should see open ride requests.
func (s Session) IsAvailableDriver() bool {
	return s.Role == RoleDriver && s.DriverStatus == DriverStatusAvailable
}
