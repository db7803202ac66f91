package domain

// RideStatus represents the lifecycle stage of a ride.
type RideStatus string

const (
	RideStatusSearching            RideStatus = "searching"
	RideStatusPending              RideStatus = "pending"
	RideStatusDriverAssigned       RideStatus = "driver_assigned"
	RideStatusAccepted             RideStatus = "accepted"
	RideStatusDriverArriving       RideStatus = "driver_arriving"
	RideStatusDriverArrived        RideStatus = "driver_arrived"
	RideStatusInProgress           RideStatus = "in_progress"
	RideStatusCompleted            RideStatus = "completed"
	RideStatusCancelledByDriver    RideStatus = "cancelled_by_driver"
	RideStatusCancelledByPassenger RideStatus = "cancelled_by_passenger"
)

// Statuses lists every status in lifecycle order.
var Statuses = []RideStatus{
	RideStatusSearching, RideStatusPending, RideStatusDriverAssigned, RideStatusAccepted,
	RideStatusDriverArriving, RideStatusDriverArrived, RideStatusInProgress,
	RideStatusCompleted, RideStatusCancelledByDriver, RideStatusCancelledByPassenger,
}

// transitions lists the forward edges of the lifecycle graph. Cancellation
// edges are implied for every non-terminal status and are not listed.
var transitions = map[RideStatus][]RideStatus{
	RideStatusSearching:      {RideStatusDriverAssigned, RideStatusAccepted},
	RideStatusPending:        {RideStatusDriverAssigned, RideStatusAccepted},
	RideStatusDriverAssigned: {RideStatusDriverArriving, RideStatusDriverArrived},
	RideStatusAccepted:       {RideStatusDriverArriving, RideStatusDriverArrived},
	RideStatusDriverArriving: {RideStatusDriverArrived},
	RideStatusDriverArrived:  {RideStatusInProgress},
	RideStatusInProgress:     {RideStatusCompleted},
}

// Valid reports whether s is a known status.
func (s RideStatus) Valid() bool {
	switch s {
	case RideStatusSearching, RideStatusPending, RideStatusDriverAssigned, RideStatusAccepted,
		RideStatusDriverArriving, RideStatusDriverArrived, RideStatusInProgress,
		RideStatusCompleted, RideStatusCancelledByDriver, RideStatusCancelledByPassenger:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s.IsCancelled()
}

// IsCancelled reports whether s is one of the cancellation statuses.
func (s RideStatus) IsCancelled() bool {
	return s == RideStatusCancelledByDriver || s == RideStatusCancelledByPassenger
}

// IsSearching reports whether the ride is still waiting for a driver.
func (s RideStatus) IsSearching() bool {
	return s == RideStatusSearching || s == RideStatusPending
}

// IsAssigned reports whether a driver holds the ride but has not started it.
func (s RideStatus) IsAssigned() bool {
	switch s {
	case RideStatusDriverAssigned, RideStatusAccepted, RideStatusDriverArriving, RideStatusDriverArrived:
		return true
	}
	return false
}

// IsEnRoute reports whether live positions should be exchanged.
func (s RideStatus) IsEnRoute() bool {
	return s.IsAssigned() || s == RideStatusInProgress
}

// CanTransition reports whether the lifecycle graph allows from -> to.
func CanTransition(from, to RideStatus) bool {
	if from.IsTerminal() || !to.Valid() {
		return false
	}
	if to.IsCancelled() {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns the statuses that may move directly to s, in
// lifecycle order.
func Predecessors(s RideStatus) []RideStatus {
	var out []RideStatus
	for _, from := range Statuses {
		if CanTransition(from, s) {
			out = append(out, from)
		}
	}
	return out
}

// CancelStatusFor returns the terminal status produced when role cancels.
func CancelStatusFor(role Role) RideStatus {
	if role == RoleDriver {
		return RideStatusCancelledByDriver
	}
	return RideStatusCancelledByPassenger
}
