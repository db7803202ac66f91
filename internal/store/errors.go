package store

import "errors"

var (
	ErrActiveRide   = errors.New("you already have an active ride")
	ErrNoActiveRide = errors.New("no active ride")
	ErrNotArrived   = errors.New("driver has not arrived yet")
	ErrLoggedOut    = errors.New("session has been logged out")
	ErrClosed       = errors.New("store closed")
	ErrRouteFailed  = errors.New("could not compute a route through the new stop")

	ErrNotParticipant = errors.New("this ride does not belong to you")
)

// expectedRejection marks a BusinessRejection that is normal control flow,
// such as losing an accept race.
type expectedRejection struct {
	err error
}

func (e *expectedRejection) Error() string { return e.err.Error() }
func (e *expectedRejection) Unwrap() error { return e.err }
