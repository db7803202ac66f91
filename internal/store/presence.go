package store

import (
	"context"

	"github.com/sirupsen/logrus"

	"ridesync/internal/domain"
)

// syncPresence starts or stops the presence bridge so that it runs exactly
// while the current ride is en route.
func (s *Store) syncPresence(ctx context.Context) {
	if s.presence == nil {
		return
	}
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	var want string
	var target PresenceTarget
	s.mu.Lock()
	if !s.closed && !s.loggedOut && s.online && s.current != nil && s.current.Status.IsEnRoute() {
		want = s.current.Key()
		target = PresenceTarget{
			UserID: s.session.UserID,
			Role:   s.session.Role,
			RideID: s.current.ID,
			Kind:   s.current.Kind,
		}
	}
	s.mu.Unlock()

	if want == s.presenceKey {
		return
	}
	if s.presenceKey != "" {
		s.presence.Stop()
		s.log.WithField("ride", s.presenceKey).Debug("presence stopped")
		s.presenceKey = ""
	}
	if want == "" {
		return
	}

	rideID := target.RideID
	err := s.presence.Start(context.WithoutCancel(ctx), target,
		func(loc domain.Location) { s.MergeDriverLocation(rideID, loc) },
		func(loc domain.Location) { s.MergePassengerLocation(rideID, loc) },
	)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"ride_id": rideID, "kind": target.Kind}).Warn("presence start failed")
		return
	}
	s.presenceKey = want
	s.log.WithField("ride", want).Debug("presence started")
}

// MergeDriverLocation records a live driver position on the current ride.
// Positions for any other ride are ignored.
func (s *Store) MergeDriverLocation(rideID string, loc domain.Location) {
	s.mergeLocation(rideID, func(r *domain.Ride) { r.DriverLastLocation = &loc })
}

// MergePassengerLocation records a live passenger position on the current ride.
func (s *Store) MergePassengerLocation(rideID string, loc domain.Location) {
	s.mergeLocation(rideID, func(r *domain.Ride) { r.PassengerLastLocation = &loc })
}

func (s *Store) mergeLocation(rideID string, set func(*domain.Ride)) {
	s.mu.Lock()
	if s.current == nil || s.current.ID != rideID {
		s.mu.Unlock()
		return
	}
	next := s.current.Clone()
	set(next)
	s.current = next
	s.mu.Unlock()

	s.publish()
}
