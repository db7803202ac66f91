// Package store holds the ride state of one user session. It is the only
// writer of the session's current ride: user intents and change-feed events
// both end in an authoritative re-fetch that replaces the slot wholesale.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"ridesync/internal/domain"
	"ridesync/internal/fare"
	"ridesync/internal/feed"
	"ridesync/internal/repository"
)

// DefaultPollInterval is the fallback refresh period.
const DefaultPollInterval = 45 * time.Second

// NoticeLevel grades a user-visible notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warning"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient message for the UI.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// Snapshot is an immutable copy of the store state.
type Snapshot struct {
	Version   uint64         `json:"version"`
	Session   domain.Session `json:"session"`
	Online    bool           `json:"online"`
	Busy      bool           `json:"busy"`
	LoggedOut bool           `json:"logged_out"`
	Current   *domain.Ride   `json:"current"`
	Available []*domain.Ride `json:"available"`
	History   []*domain.Ride `json:"history"`
	Notice    *Notice        `json:"notice,omitempty"`
}

// Deps are the collaborators of a Store.
type Deps struct {
	Repo     repository.RideRepository
	Auth     Auth
	Router   Router
	Notifier Notifier
	Presence Presence
	Feed     feed.Source
	Clock    Clock
}

// Config tunes a Store.
type Config struct {
	Policy       fare.Policy
	PollInterval time.Duration
	DedupeWindow time.Duration
	Logger       logrus.FieldLogger
	NewRelic     *newrelic.Application
}

// Store is the ride state of one session.
type Store struct {
	repo     repository.RideRepository
	auth     Auth
	router   Router
	notifier Notifier
	presence Presence
	feed     *feed.Subscriber
	clock    Clock

	policy       fare.Policy
	pollInterval time.Duration
	log          logrus.FieldLogger
	nr           *newrelic.Application

	mu        sync.Mutex
	session   domain.Session
	online    bool
	started   bool
	closed    bool
	loggedOut bool
	busy      int
	requests  int // request and accept intents in flight
	current   *domain.Ride
	available []*domain.Ride
	history   []*domain.Ride
	dismissed map[string]bool
	notice    *Notice
	version   uint64

	presenceMu  sync.Mutex
	presenceKey string

	pollMu   sync.Mutex
	pollStop chan struct{}
	pollDone chan struct{}

	watchMu     sync.Mutex
	watchers    map[int]chan Snapshot
	nextWatcher int
}

// New creates a Store for the session reported by deps.Auth. Call Start to
// load state and open the change feed.
func New(deps Deps, cfg Config) *Store {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	clock := deps.Clock
	if clock == nil {
		clock = systemClock{}
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	policy := cfg.Policy
	if policy == (fare.Policy{}) {
		policy = fare.DefaultPolicy()
	}
	window := cfg.DedupeWindow
	if window <= 0 {
		window = feed.DefaultDedupeWindow
	}

	session := deps.Auth.Session()
	s := &Store{
		repo:         deps.Repo,
		auth:         deps.Auth,
		router:       deps.Router,
		notifier:     deps.Notifier,
		presence:     deps.Presence,
		clock:        clock,
		policy:       policy,
		pollInterval: poll,
		log:          log.WithFields(logrus.Fields{"user_id": session.UserID, "role": session.Role}),
		nr:           cfg.NewRelic,
		session:      session,
		online:       true,
		dismissed:    make(map[string]bool),
		watchers:     make(map[int]chan Snapshot),
	}
	s.feed = feed.NewSubscriber(deps.Feed, s, s.log, feed.WithDedupeWindow(window), feed.WithClock(clock.Now))
	return s
}

// Start bootstraps the session state, subscribes to the change feed and
// starts the polling fallback.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	session, online := s.session, s.online
	s.mu.Unlock()

	if err := s.feed.Sync(session.UserID, online); err != nil {
		s.log.WithError(err).Error("change feed subscription failed, relying on polling")
	}
	s.startPoller()
	return s.run(ctx, "bootstrap", s.bootstrap)
}

// Close tears down every background resource. It is safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stopPoller(true)
	s.feed.Close()
	s.syncPresence(context.Background())

	s.watchMu.Lock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.watchMu.Unlock()
}

// Session returns the session the store works for.
func (s *Store) Session() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Current returns a copy of the current ride, or nil.
func (s *Store) Current() *domain.Ride {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Snapshot returns a copy of the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:   s.version,
		Session:   s.session,
		Online:    s.online,
		Busy:      s.busy > 0,
		LoggedOut: s.loggedOut,
		Current:   s.current.Clone(),
		Available: cloneRides(s.available),
		History:   cloneRides(s.history),
	}
	if s.notice != nil {
		n := *s.notice
		snap.Notice = &n
	}
	return snap
}

// Watch returns a channel receiving the latest snapshot after every change.
// Slow readers only see the most recent one.
func (s *Store) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	snap := s.Snapshot()

	s.watchMu.Lock()
	ch <- snap
	if s.isClosed() {
		s.watchMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	cancel := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if c, ok := s.watchers[id]; ok {
			close(c)
			delete(s.watchers, id)
		}
	}
	return ch, cancel
}

// publish bumps the version and hands the new snapshot to every watcher.
func (s *Store) publish() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.mu.Lock()
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) setNotice(level NoticeLevel, message string) {
	s.mu.Lock()
	s.notice = &Notice{Level: level, Message: message, At: s.clock.Now()}
	s.mu.Unlock()
}

// ClearNotice dismisses the current notice.
func (s *Store) ClearNotice() {
	s.mu.Lock()
	s.notice = nil
	s.mu.Unlock()
	s.publish()
}

func cloneRides(rides []*domain.Ride) []*domain.Ride {
	out := make([]*domain.Ride, 0, len(rides))
	for _, r := range rides {
		out = append(out, r.Clone())
	}
	return out
}
