// Package fare computes wait-time billing and cancellation penalties.
//
// Every function here is pure: results depend only on the arguments, so a
// caller may recompute them as often as it likes (for example once per second
// for a live countdown) and always get the same answer for the same instant.
package fare

import "time"

// Policy holds the billing parameters for waiting and cancellation.
type Policy struct {
	GracePeriod              time.Duration
	WaitFeePerMinute         float64
	PassengerCancellationFee float64
	DriverCancellationFee    float64
}

// DefaultPolicy returns the policy used when configuration does not override it.
func DefaultPolicy() Policy {
	return Policy{
		GracePeriod:              2 * time.Minute,
		WaitFeePerMinute:         50,
		PassengerCancellationFee: 150,
		DriverCancellationFee:    0,
	}
}

// GracePeriodSeconds returns the grace period in whole seconds.
func (p Policy) GracePeriodSeconds() int64 {
	return int64(p.GracePeriod / time.Second)
}
