package store

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"ridesync/internal/domain"
	"ridesync/internal/feed"
	"ridesync/internal/repository"
)

// Reconcile applies one change-feed event. The event payload only decides
// what to re-fetch; state always comes from the backend.
func (s *Store) Reconcile(ev feed.Event) {
	s.background(context.Background(), "reconcile", func(ctx context.Context) error {
		return s.reconcile(ctx, ev)
	})
}

// Resync reloads everything after the feed recovered from a gap.
func (s *Store) Resync() {
	s.background(context.Background(), "resync", s.bootstrap)
}

func (s *Store) reconcile(ctx context.Context, ev feed.Event) error {
	session := s.Session()
	current := s.Current()
	id := ev.RideID()
	log := s.log.WithFields(logrus.Fields{"ride_id": id, "kind": ev.Kind, "event": ev.Type})

	var errs []error
	if session.IsAvailableDriver() {
		if ev.IsNewRequest() && !s.isDismissed(ev.Kind, id) {
			s.announceRequest(ctx, ev)
		}
		if touchesAvailable(ev) {
			errs = append(errs, s.refreshAvailable(ctx))
		}
	}

	switch {
	case current != nil && current.ID == id && current.Kind == ev.Kind:
		log.Debug("current ride changed")
		ride, err := s.refetch(ctx, ev.Kind, id)
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("current ride disappeared")
			break
		}
		if err != nil {
			errs = append(errs, err)
			break
		}
		if ride.Status != current.Status {
			errs = append(errs, s.afterStatusChange(ctx, current, ride))
		}

	case session.Role == domain.RoleDriver && current == nil && ev.AssignsDriver(session.UserID):
		log.Info("adopting ride assigned by another flow")
		ride, err := s.refetch(ctx, ev.Kind, id)
		if err != nil {
			errs = append(errs, err)
			break
		}
		if !ride.Status.IsTerminal() {
			s.setNotice(NoticeInfo, "A ride has been assigned to you.")
			s.playSound(ctx, domain.SoundStatusChange)
		}
	}

	return errors.Join(errs...)
}

// touchesAvailable reports whether ev can change the open request list.
func touchesAvailable(ev feed.Event) bool {
	return ev.Status().IsSearching() || ev.PreviousStatus().IsSearching() || ev.Type == feed.EventDelete
}

// announceRequest raises the attention signals for a new open request.
func (s *Store) announceRequest(ctx context.Context, ev feed.Event) {
	session := s.Session()
	s.playSound(ctx, domain.SoundNewRequest)
	s.notify(ctx, session.UserID, domain.Notification{
		Type:    domain.NotificationRideRequested,
		Title:   "New ride request",
		Message: "A new ride request is available near you.",
		Data:    map[string]interface{}{"ride_id": ev.RideID(), "kind": string(ev.Kind)},
	})
	s.setNotice(NoticeInfo, "New ride request available.")
}

// afterStatusChange runs the side effects of the current ride moving from
// prev to next, whoever caused it.
func (s *Store) afterStatusChange(ctx context.Context, prev, next *domain.Ride) error {
	if !next.Status.IsTerminal() {
		s.playSound(ctx, domain.SoundStatusChange)
		return nil
	}

	var errs []error
	errs = append(errs, s.loadHistory(ctx))

	session := s.Session()
	if session.Role == domain.RoleDriver && prev.DriverID == session.UserID {
		if err := s.setDriverStatus(ctx, domain.DriverStatusAvailable); err != nil {
			errs = append(errs, err)
		} else {
			errs = append(errs, s.refreshAvailable(ctx))
		}
	}
	return errors.Join(errs...)
}

// refetch loads the authoritative record and stores it. A terminal record
// clears the current slot and is still returned. A missing record clears the
// slot and yields ErrNotFound.
func (s *Store) refetch(ctx context.Context, kind domain.Kind, id string) (*domain.Ride, error) {
	ride, err := s.repo.FetchByID(ctx, id, kind)
	if errors.Is(err, repository.ErrNotFound) {
		s.clearCurrent(ctx, kind, id)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.adopt(ctx, ride)
	return ride.Clone(), nil
}

// adopt stores ride as the current ride, or files it in history if terminal.
func (s *Store) adopt(ctx context.Context, ride *domain.Ride) {
	s.mu.Lock()
	held := s.current
	switch {
	case ride.Status.IsTerminal():
		if held != nil && held.Key() == ride.Key() {
			s.current = nil
		}
		s.history = upsertRide(s.history, ride.Clone())
	default:
		if held != nil && held.Key() != ride.Key() && !held.Status.IsTerminal() {
			s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "held_ride_id": held.ID}).
				Warn("replacing a different non-terminal current ride")
		}
		next := ride.Clone()
		if held != nil && held.Key() == ride.Key() {
			next.DriverLastLocation = held.DriverLastLocation
			next.PassengerLastLocation = held.PassengerLastLocation
		}
		s.current = next
		s.available = removeRide(s.available, ride.Key())
	}
	s.mu.Unlock()

	s.syncPresence(ctx)
}

// clearCurrent empties the current slot if it holds the given ride.
func (s *Store) clearCurrent(ctx context.Context, kind domain.Kind, id string) {
	s.mu.Lock()
	if s.current != nil && s.current.Kind == kind && s.current.ID == id {
		s.current = nil
	}
	s.mu.Unlock()

	s.syncPresence(ctx)
}

func (s *Store) isDismissed(kind domain.Kind, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dismissed[rideKey(kind, id)]
}

// rideKey matches domain.Ride.Key for a ride not loaded yet.
func rideKey(kind domain.Kind, id string) string {
	return (&domain.Ride{Kind: kind, ID: id}).Key()
}

func (s *Store) playSound(ctx context.Context, key string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PlaySound(ctx, s.Session().UserID, key); err != nil {
		s.log.WithError(err).WithField("sound", key).Warn("play sound failed")
	}
}

func (s *Store) notify(ctx context.Context, userID string, n domain.Notification) {
	if s.notifier == nil || userID == "" {
		return
	}
	n.RecipientID = userID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock.Now()
	}
	if err := s.notifier.SendNotification(ctx, userID, n); err != nil {
		s.log.WithError(err).WithField("recipient_id", userID).Warn("send notification failed")
	}
}

func upsertRide(rides []*domain.Ride, ride *domain.Ride) []*domain.Ride {
	out := make([]*domain.Ride, 0, len(rides)+1)
	out = append(out, ride)
	for _, r := range rides {
		if r.Key() != ride.Key() {
			out = append(out, r)
		}
	}
	return out
}

func removeRide(rides []*domain.Ride, key string) []*domain.Ride {
	out := rides[:0:0]
	for _, r := range rides {
		if r.Key() != key {
			out = append(out, r)
		}
	}
	return out
}
