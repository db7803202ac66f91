package store

import (
	"time"

	"ridesync/internal/domain"
	"ridesync/internal/fare"
)

// WaitFee bills the wait at pickup for the current ride. It reports false
// unless the driver has arrived and the arrival time is known.
func (s *Store) WaitFee(now time.Time) (fare.WaitFee, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.current
	if r == nil || r.Status != domain.RideStatusDriverArrived || r.Timestamps.ArrivedAt == nil {
		return fare.WaitFee{}, false
	}
	return fare.ComputeWaitFee(*r.Timestamps.ArrivedAt, now, s.policy), true
}

// PenaltyPreview computes what cancelling the current ride at now would cost
// the session user.
func (s *Store) PenaltyPreview(now time.Time) (fare.Penalty, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.current
	if r == nil {
		return fare.Penalty{}, false
	}
	return fare.ComputeCancellationPenalty(fare.PenaltyInput{
		Actor:         s.session.Role,
		Status:        r.Status,
		ArrivedAt:     r.Timestamps.ArrivedAt,
		Now:           now,
		PrepaidAmount: r.Fare.PrepaidAmount,
		Policy:        s.policy,
	}), true
}
