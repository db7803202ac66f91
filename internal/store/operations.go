package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ridesync/internal/domain"
	"ridesync/internal/repository"
)

// RequestRide creates a ride for the passenger and makes it current.
func (s *Store) RequestRide(ctx context.Context, kind domain.Kind, payload repository.CreatePayload) (*domain.Ride, error) {
	var out *domain.Ride
	err := s.run(ctx, "request_ride", func(ctx context.Context) error {
		session := s.Session()
		if session.Role != domain.RolePassenger {
			return &repository.ValidationError{Field: "role", Message: "only passengers can request rides"}
		}

		// One request at a time, and none while a ride is active.
		s.mu.Lock()
		if s.current != nil || s.requests > 0 {
			s.mu.Unlock()
			return ErrActiveRide
		}
		s.requests++
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.requests--
			s.mu.Unlock()
		}()

		payload.PassengerID = session.UserID
		if payload.ID == "" {
			payload.ID = uuid.NewString()
		}
		if err := repository.ValidatePayload(kind, &payload); err != nil {
			return err
		}

		created, err := s.repo.Create(ctx, kind, payload)
		if err != nil {
			return err
		}
		ride, err := s.refetch(ctx, kind, created.ID)
		if err != nil {
			return err
		}

		s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "kind": kind}).Info("ride requested")
		out = ride
		return nil
	})
	return out, err
}

// AcceptRide assigns an open ride to the driver. Losing the race to another
// driver refreshes the open list and leaves the current ride untouched.
func (s *Store) AcceptRide(ctx context.Context, kind domain.Kind, id string) (*domain.Ride, error) {
	var out *domain.Ride
	err := s.run(ctx, "accept_ride", func(ctx context.Context) error {
		session := s.Session()
		if !session.IsAvailableDriver() {
			return &repository.ValidationError{Field: "driver_status", Message: "only available drivers can accept rides"}
		}

		// A driver holds one ride, so accepts are serialized with each
		// other and with the current slot.
		s.mu.Lock()
		if s.current != nil || s.requests > 0 {
			s.mu.Unlock()
			return ErrActiveRide
		}
		s.requests++
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.requests--
			s.mu.Unlock()
		}()

		log := s.log.WithFields(logrus.Fields{"ride_id": id, "kind": kind})
		if _, err := s.repo.Accept(ctx, id, kind, session.UserID); err != nil {
			if repository.IsBusinessRejection(err) && !repository.IsSessionExpired(err) {
				log.WithError(err).Info("accept lost")
				if rerr := s.refreshAvailable(ctx); rerr != nil {
					log.WithError(rerr).Warn("refresh available rides after lost accept failed")
				}
				return &expectedRejection{err: err}
			}
			return err
		}

		if err := s.setDriverStatus(ctx, domain.DriverStatusOnTrip); err != nil {
			log.WithError(err).Error("ride accepted but driver status update failed")
		}

		ride, err := s.refetch(ctx, kind, id)
		if err != nil {
			return err
		}
		s.notify(ctx, ride.PassengerID, domain.Notification{
			Type:    domain.NotificationDriverAssigned,
			Title:   "Driver assigned",
			Message: "A driver accepted your ride and is on the way.",
			Data:    map[string]interface{}{"ride_id": ride.ID, "kind": string(ride.Kind)},
		})

		log.Info("ride accepted")
		out = ride
		return nil
	})
	return out, err
}

// statusNotifications maps forward transitions to the message sent to the
// other party.
var statusNotifications = map[domain.RideStatus]domain.Notification{
	domain.RideStatusDriverArrived: {Type: domain.NotificationDriverArrived, Title: "Driver arrived", Message: "Your driver is waiting at the pickup point."},
	domain.RideStatusInProgress:    {Type: domain.NotificationRideStarted, Title: "Ride started", Message: "Your ride has started."},
	domain.RideStatusCompleted:     {Type: domain.NotificationRideCompleted, Title: "Ride completed", Message: "Your ride is complete."},
}

// UpdateRideStatus moves the current ride forward to target.
func (s *Store) UpdateRideStatus(ctx context.Context, target domain.RideStatus, extra repository.TransitionExtra) error {
	return s.run(ctx, "update_ride_status", func(ctx context.Context) error {
		session := s.Session()
		current := s.Current()
		if current == nil {
			return ErrNoActiveRide
		}
		if target.IsCancelled() {
			return &repository.ValidationError{Field: "status", Message: "cancel the ride instead of setting a cancelled status"}
		}
		if session.Role != domain.RoleDriver {
			return &repository.ValidationError{Field: "role", Message: "only the driver can advance a ride"}
		}
		if target == domain.RideStatusInProgress && current.Status != domain.RideStatusDriverArrived {
			return ErrNotArrived
		}
		if !domain.CanTransition(current.Status, target) {
			return &repository.ValidationError{
				Field:   "status",
				Message: fmt.Sprintf("cannot move a %s ride to %s", current.Status, target),
			}
		}

		if err := s.repo.Transition(ctx, current.ID, current.Kind, target, extra); err != nil {
			return err
		}

		ride, err := s.refetch(ctx, current.Kind, current.ID)
		if err != nil {
			return err
		}
		if n, ok := statusNotifications[target]; ok {
			n.Data = map[string]interface{}{"ride_id": ride.ID, "kind": string(ride.Kind)}
			s.notify(ctx, ride.PassengerID, n)
		}

		s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "kind": ride.Kind, "status": ride.Status}).Info("ride status updated")
		if ride.Status.IsTerminal() {
			if err := s.afterStatusChange(ctx, current, ride); err != nil {
				s.log.WithError(err).WithField("ride_id", ride.ID).Warn("follow-up after final status failed")
			}
		}
		return nil
	})
}

// CancelRide cancels a ride on behalf of the session user, who must be its
// passenger or its driver.
func (s *Store) CancelRide(ctx context.Context, kind domain.Kind, id, reason string) (*repository.CancelResult, error) {
	var out *repository.CancelResult
	err := s.run(ctx, "cancel_ride", func(ctx context.Context) error {
		session := s.Session()
		held := s.Current()
		isHeld := held != nil && held.Kind == kind && held.ID == id

		if !isHeld {
			ride, err := s.repo.FetchByID(ctx, id, kind)
			if err != nil {
				return err
			}
			if ride.PassengerID != session.UserID && ride.DriverID != session.UserID {
				return ErrNotParticipant
			}
		}

		res, err := s.repo.Cancel(ctx, id, kind, reason, session.Role, session.UserID)
		if err != nil {
			return err
		}
		out = res
		s.clearCurrent(ctx, kind, id)

		log := s.log.WithFields(logrus.Fields{"ride_id": id, "kind": kind})
		log.Info("ride cancelled")
		if res.Message != "" {
			s.setNotice(NoticeInfo, res.Message)
		}

		var errs []error
		errs = append(errs, s.loadHistory(ctx))

		if isHeld {
			counterpart := held.DriverID
			if session.Role == domain.RoleDriver {
				counterpart = held.PassengerID
			}
			s.notify(ctx, counterpart, domain.Notification{
				Type:    domain.NotificationRideCancelled,
				Title:   "Ride cancelled",
				Message: "The ride was cancelled by the other party.",
				Data:    map[string]interface{}{"ride_id": id, "kind": string(kind), "reason": reason},
			})
		}

		// A driver still carrying another ride stays on trip.
		if session.Role == domain.RoleDriver && (isHeld || s.Current() == nil) {
			if err := s.setDriverStatus(ctx, domain.DriverStatusAvailable); err != nil {
				errs = append(errs, err)
			} else {
				errs = append(errs, s.refreshAvailable(ctx))
			}
		}

		// The cancellation itself went through.
		if err := errors.Join(errs...); err != nil {
			log.WithError(err).Warn("follow-up after cancellation failed")
		}
		return nil
	})
	return out, err
}

// AddStop appends a stop to the current ride. The new route is computed
// first so the backend always receives a consistent route.
func (s *Store) AddStop(ctx context.Context, rideID string, stop domain.Place) error {
	return s.run(ctx, "add_stop", func(ctx context.Context) error {
		current := s.Current()
		if current == nil || current.ID != rideID {
			return ErrNoActiveRide
		}
		if err := repository.ValidatePlace(stop); err != nil {
			return err
		}

		origin := current.Origin
		if loc := current.DriverLastLocation; loc != nil {
			origin = domain.Place{Address: "Driver location", Lat: loc.Lat, Lng: loc.Lng}
		}
		waypoints := make([]domain.Place, 0, len(current.Stops)+1)
		waypoints = append(waypoints, current.Stops...)
		waypoints = append(waypoints, stop)

		if s.router == nil {
			return fmt.Errorf("%w: no router configured", ErrRouteFailed)
		}
		route, err := s.router.CalculateRoute(ctx, origin, current.Destination, waypoints)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRouteFailed, err)
		}

		if err := s.repo.AddStop(ctx, current.ID, current.Kind, stop, *route); err != nil {
			return err
		}
		_, err = s.refetch(ctx, current.Kind, current.ID)
		return err
	})
}

// DismissRide hides an open request from this driver for the rest of the
// session. It has no remote effect.
func (s *Store) DismissRide(kind domain.Kind, id string) error {
	s.mu.Lock()
	if s.session.Role != domain.RoleDriver {
		s.mu.Unlock()
		return &repository.ValidationError{Field: "role", Message: "only drivers can dismiss ride requests"}
	}
	key := rideKey(kind, id)
	s.dismissed[key] = true
	s.available = removeRide(s.available, key)
	s.mu.Unlock()

	s.publish()
	return nil
}

// LoadHistory reloads the finished rides of the session.
func (s *Store) LoadHistory(ctx context.Context) error {
	return s.run(ctx, "load_history", s.loadHistory)
}

// RefreshAvailable reloads the open requests for an available driver.
func (s *Store) RefreshAvailable(ctx context.Context) error {
	return s.run(ctx, "refresh_available", s.refreshAvailable)
}

// Refresh reloads the whole session state from the backend.
func (s *Store) Refresh(ctx context.Context) error {
	return s.run(ctx, "refresh", s.bootstrap)
}

// SetOnline records connectivity. Going offline drops the change feed, the
// poller and the presence bridge; coming back reopens them and resyncs.
func (s *Store) SetOnline(ctx context.Context, online bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	changed := s.online != online
	s.online = online
	if online && s.notice != nil && s.notice.Message == msgOffline {
		s.notice = nil
	}
	userID, loggedOut := s.session.UserID, s.loggedOut
	s.mu.Unlock()

	if !changed || loggedOut {
		s.publish()
		return nil
	}

	s.log.WithField("online", online).Info("connectivity changed")
	if !online {
		s.teardown(ctx)
		s.publish()
		return nil
	}

	if err := s.feed.Sync(userID, true); err != nil {
		s.log.WithError(err).Error("change feed subscription failed, relying on polling")
	}
	s.startPoller()
	s.background(ctx, "resync", s.bootstrap)
	return nil
}

// SetDriverStatus changes the availability of a driver session.
func (s *Store) SetDriverStatus(ctx context.Context, status domain.DriverStatus) error {
	return s.run(ctx, "set_driver_status", func(ctx context.Context) error {
		session := s.Session()
		if session.Role != domain.RoleDriver {
			return &repository.ValidationError{Field: "role", Message: "only drivers have an availability status"}
		}
		switch status {
		case domain.DriverStatusAvailable, domain.DriverStatusOffline:
		default:
			return &repository.ValidationError{Field: "driver_status", Message: fmt.Sprintf("cannot set driver status to %q", status)}
		}
		if s.Current() != nil {
			return ErrActiveRide
		}

		if err := s.setDriverStatus(ctx, status); err != nil {
			return err
		}
		return s.refreshAvailable(ctx)
	})
}

// Logout ends the session and releases every background resource.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.loggedOut {
		s.mu.Unlock()
		return nil
	}
	s.loggedOut = true
	s.current = nil
	s.available = nil
	s.history = nil
	s.notice = nil
	s.mu.Unlock()

	s.teardown(ctx)
	err := s.auth.Logout(ctx)
	s.publish()
	return err
}

// AuthInfo returns the start proof of the current ride.
func (s *Store) AuthInfo(ctx context.Context) (*repository.AuthInfo, error) {
	var out *repository.AuthInfo
	err := s.run(ctx, "auth_info", func(ctx context.Context) error {
		current := s.Current()
		if current == nil {
			return ErrNoActiveRide
		}
		info, err := s.repo.GetAuthInfo(ctx, current.ID, current.Kind)
		if err != nil {
			return err
		}
		out = info
		return nil
	})
	return out, err
}

// bootstrap loads the session: history, the current ride and, for an
// available driver, the open requests.
func (s *Store) bootstrap(ctx context.Context) error {
	session := s.Session()
	rides, err := s.repo.ListForUser(ctx, session.UserID, session.Role)
	if err != nil {
		return err
	}

	var active, finished []*domain.Ride
	for _, r := range rides {
		if r.Status.IsTerminal() {
			finished = append(finished, r)
		} else {
			active = append(active, r)
		}
	}
	if len(active) > 1 {
		ids := make([]string, len(active))
		for i, r := range active {
			ids[i] = r.Key()
		}
		s.log.WithField("rides", ids).Warn("more than one non-terminal ride, keeping the most recent")
	}

	s.mu.Lock()
	s.history = finished
	s.mu.Unlock()

	if len(active) == 0 {
		s.mu.Lock()
		held := s.current
		s.mu.Unlock()
		if held != nil {
			s.clearCurrent(ctx, held.Kind, held.ID)
		}
	} else {
		pick := active[0]
		for _, r := range active[1:] {
			if r.Timestamps.CreatedAt.After(pick.Timestamps.CreatedAt) {
				pick = r
			}
		}
		if _, err := s.refetch(ctx, pick.Kind, pick.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}

	return s.refreshAvailable(ctx)
}

// loadHistory replaces the history with the finished rides of the session.
func (s *Store) loadHistory(ctx context.Context) error {
	session := s.Session()
	rides, err := s.repo.ListForUser(ctx, session.UserID, session.Role)
	if err != nil {
		return err
	}
	finished := make([]*domain.Ride, 0, len(rides))
	for _, r := range rides {
		if r.Status.IsTerminal() {
			finished = append(finished, r)
		}
	}

	s.mu.Lock()
	s.history = finished
	s.mu.Unlock()
	return nil
}

// refreshAvailable reloads the open requests, or empties the list when the
// session is not an available driver.
func (s *Store) refreshAvailable(ctx context.Context) error {
	session := s.Session()
	if !session.IsAvailableDriver() {
		s.mu.Lock()
		s.available = nil
		s.mu.Unlock()
		return nil
	}

	rides, err := s.repo.ListAvailableForDriver(ctx, session.UserID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]*domain.Ride, 0, len(rides))
	for _, r := range rides {
		if s.dismissed[r.Key()] || (s.current != nil && s.current.Key() == r.Key()) {
			continue
		}
		kept = append(kept, r)
	}
	s.available = kept
	return nil
}

// setDriverStatus persists a new driver status through the auth collaborator
// and mirrors it in the session.
func (s *Store) setDriverStatus(ctx context.Context, status domain.DriverStatus) error {
	if err := s.auth.UpdateProfile(ctx, ProfilePatch{DriverStatus: status}); err != nil {
		return err
	}
	s.mu.Lock()
	s.session.DriverStatus = status
	if status != domain.DriverStatusAvailable {
		s.available = nil
	}
	s.mu.Unlock()
	return nil
}
