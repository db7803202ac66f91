package store

import (
	"context"
	"errors"

	"github.com/newrelic/go-agent/v3/newrelic"

	"ridesync/internal/feed"
	"ridesync/internal/repository"
)

// Messages shown when the backend gave none.
const (
	msgOffline        = "You are offline. Reconnect and try again."
	msgSessionExpired = "Your session has expired. Please sign in again."
	msgTransport      = "Could not reach the server. Please try again."
	msgNotFound       = "This ride no longer exists."
)

// run executes a user-visible operation. The busy flag is raised for the
// duration of fn and lowered on every exit path.
func (s *Store) run(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := s.admit(op); err != nil {
		s.publish()
		return err
	}

	s.mu.Lock()
	s.busy++
	s.mu.Unlock()
	s.publish()

	txn := s.nr.StartTransaction("store/" + op)
	defer func() {
		s.mu.Lock()
		s.busy--
		s.mu.Unlock()
		txn.End()
		s.publish()
	}()

	err := fn(newrelic.NewContext(ctx, txn))
	if err == nil {
		return nil
	}
	txn.NoticeError(err)
	return s.handleError(ctx, op, err)
}

// background executes work triggered by the feed or the poller. It never
// raises the busy flag and only surfaces session expiry.
func (s *Store) background(ctx context.Context, op string, fn func(context.Context) error) {
	s.mu.Lock()
	skip := s.closed || s.loggedOut || !s.online
	s.mu.Unlock()
	if skip {
		return
	}

	txn := s.nr.StartTransaction("store/" + op)
	defer txn.End()

	err := fn(newrelic.NewContext(ctx, txn))
	if err == nil {
		s.publish()
		return
	}
	txn.NoticeError(err)

	log := s.log.WithField("op", op).WithError(err)
	switch {
	case repository.IsSessionExpired(err):
		log.Warn("session expired during background refresh")
		s.forceLogout(ctx)
	case repository.IsTransport(err):
		log.Error("background refresh failed")
	default:
		log.Warn("background refresh failed")
	}
	s.publish()
}

// admit rejects an operation before any remote call when the session cannot
// perform it.
func (s *Store) admit(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ErrClosed
	case s.loggedOut:
		return ErrLoggedOut
	case !s.online:
		s.notice = &Notice{Level: NoticeError, Message: msgOffline, At: s.clock.Now()}
		return &repository.TransportError{Op: op, Err: repository.ErrOffline}
	}
	return nil
}

// handleError classifies err, surfaces it as a notice and returns it.
func (s *Store) handleError(ctx context.Context, op string, err error) error {
	log := s.log.WithField("op", op).WithError(err)

	var expected *expectedRejection
	var rejection *repository.BusinessRejection
	var invalid *repository.ValidationError

	switch {
	case errors.As(err, &expected):
		log.Info("operation declined")
		s.setNotice(NoticeInfo, expected.Error())
	case repository.IsSessionExpired(err):
		log.Warn("session expired, logging out")
		s.forceLogout(ctx)
	case errors.As(err, &invalid):
		log.Info("operation rejected by validation")
		s.setNotice(NoticeWarn, invalid.Message)
	case errors.As(err, &rejection):
		log.Info("operation rejected by backend")
		s.setNotice(NoticeWarn, rejection.Message)
	case errors.Is(err, repository.ErrNotFound):
		log.Warn("ride not found")
		s.setNotice(NoticeWarn, msgNotFound)
	case errors.Is(err, ErrRouteFailed):
		log.Warn("route computation failed")
		s.setNotice(NoticeWarn, ErrRouteFailed.Error())
	case errors.Is(err, ErrNotParticipant):
		log.Warn("operation on a ride of another user")
		s.setNotice(NoticeWarn, err.Error())
	case errors.Is(err, ErrActiveRide), errors.Is(err, ErrNoActiveRide), errors.Is(err, ErrNotArrived):
		log.Info("operation not allowed in current state")
		s.setNotice(NoticeWarn, err.Error())
	case repository.IsTransport(err):
		log.Error("backend unreachable")
		s.setNotice(NoticeError, msgTransport)
	default:
		log.Error("operation failed")
		s.setNotice(NoticeError, err.Error())
	}
	return err
}

// forceLogout drops all session state and ends the session with the auth
// collaborator.
func (s *Store) forceLogout(ctx context.Context) {
	s.mu.Lock()
	if s.loggedOut {
		s.mu.Unlock()
		return
	}
	s.loggedOut = true
	s.current = nil
	s.available = nil
	s.history = nil
	s.notice = &Notice{Level: NoticeError, Message: msgSessionExpired, At: s.clock.Now()}
	s.mu.Unlock()

	s.teardown(ctx)
	if err := s.auth.Logout(ctx); err != nil {
		s.log.WithError(err).Warn("logout after session expiry failed")
	}
	s.publish()
}

// teardown stops every background resource bound to the session without
// waiting for the poller to finish its current tick.
func (s *Store) teardown(ctx context.Context) {
	s.stopPoller(false)
	if err := s.feed.Sync("", false); err != nil && !errors.Is(err, feed.ErrClosed) {
		s.log.WithError(err).Warn("feed teardown failed")
	}
	s.syncPresence(ctx)
}
