package domain

import "time"

// Kind identifies which backend collection a ride lives in.
type Kind string

const (
	KindImmediate Kind = "immediate"
	KindScheduled Kind = "scheduled"
	KindHourly    Kind = "hourly"
	KindPackage   Kind = "package"
)

// Kinds lists every ride kind in a stable order.
var Kinds = []Kind{KindImmediate, KindScheduled, KindHourly, KindPackage}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindImmediate, KindScheduled, KindHourly, KindPackage:
		return true
	}
	return false
}

// Place is an address with coordinates.
type Place struct {
	Address string  `json:"address" validate:"required"`
	Lat     float64 `json:"lat" validate:"latitude"`
	Lng     float64 `json:"lng" validate:"longitude"`
}

// Location is a live position reported by the presence bridge.
type Location struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   float64   `json:"heading,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Timestamps holds the lifecycle instants of a ride. Each is set at most once.
type Timestamps struct {
	CreatedAt   time.Time  `json:"created_at"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Fare holds the money side of a ride.
type Fare struct {
	EstimatedFare float64       `json:"estimated_fare"`
	ActualFare    float64       `json:"actual_fare"`
	WaitFee       float64       `json:"wait_fee"`
	CancelPenalty float64       `json:"cancel_penalty"`
	PrepaidAmount float64       `json:"prepaid_amount"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// PackageDetails is only populated for package deliveries.
type PackageDetails struct {
	RecipientName  string `json:"recipient_name,omitempty"`
	RecipientPhone string `json:"recipient_phone,omitempty"`
	Description    string `json:"description,omitempty"`
}

// Ride is the canonical, kind-agnostic projection of a ride record.
type Ride struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Status      RideStatus `json:"status"`
	PassengerID string     `json:"passenger_id"`
	DriverID    string     `json:"driver_id,omitempty"`

	Origin      Place   `json:"origin"`
	Destination Place   `json:"destination"`
	Stops       []Place `json:"stops"`

	Timestamps Timestamps `json:"timestamps"`
	Fare       Fare       `json:"fare"`

	DistanceKm   float64         `json:"distance_km"`
	DurationMin  float64         `json:"duration_min"`
	VehicleType  string          `json:"vehicle_type,omitempty"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	Hours        float64         `json:"hours,omitempty"`
	Package      *PackageDetails `json:"package,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	CancelledBy  string          `json:"cancelled_by,omitempty"`

	// Live positions. Written only by the presence merge path.
	DriverLastLocation    *Location `json:"driver_last_location,omitempty"`
	PassengerLastLocation *Location `json:"passenger_last_location,omitempty"`
}

// Clone returns a copy of r that shares no slices or pointers with it.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	if r.Stops != nil {
		c.Stops = append([]Place(nil), r.Stops...)
	}
	c.Timestamps.ArrivedAt = cloneTime(r.Timestamps.ArrivedAt)
	c.Timestamps.StartedAt = cloneTime(r.Timestamps.StartedAt)
	c.Timestamps.CompletedAt = cloneTime(r.Timestamps.CompletedAt)
	c.Timestamps.CancelledAt = cloneTime(r.Timestamps.CancelledAt)
	c.ScheduledAt = cloneTime(r.ScheduledAt)
	if r.Package != nil {
		p := *r.Package
		c.Package = &p
	}
	if r.DriverLastLocation != nil {
		l := *r.DriverLastLocation
		c.DriverLastLocation = &l
	}
	if r.PassengerLastLocation != nil {
		l := *r.PassengerLastLocation
		c.PassengerLastLocation = &l
	}
	return &c
}

// Key identifies a ride across collections.
func (r *Ride) Key() string {
	return string(r.Kind) + ":" + r.ID
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
