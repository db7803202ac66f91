package store

import (
	"context"
	"errors"
	"time"

	"ridesync/internal/repository"
)

// startPoller starts the periodic refresh of the current ride and the open
// requests. It is a no-op while a poller runs.
func (s *Store) startPoller() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.pollStop != nil || s.isClosed() {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.pollStop, s.pollDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.background(context.Background(), "poll", s.poll)
			}
		}
	}()
}

// stopPoller stops the poller. With wait it also blocks until the last tick
// has returned, which must not be requested from the poller goroutine itself.
func (s *Store) stopPoller(wait bool) {
	s.pollMu.Lock()
	stop, done := s.pollStop, s.pollDone
	s.pollStop = nil
	s.pollMu.Unlock()

	if stop != nil {
		close(stop)
	}
	if wait && done != nil {
		<-done
	}
}

func (s *Store) poll(ctx context.Context) error {
	var errs []error
	if current := s.Current(); current != nil {
		ride, err := s.refetch(ctx, current.Kind, current.ID)
		switch {
		case err == nil && ride.Status != current.Status:
			errs = append(errs, s.afterStatusChange(ctx, current, ride))
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.refreshAvailable(ctx))
	return errors.Join(errs...)
}
