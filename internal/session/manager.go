// Package session keeps one ride store per authenticated user and tears it
// down when the user logs out.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"ridesync/internal/domain"
	"ridesync/internal/feed"
	"ridesync/internal/repository"
	"ridesync/internal/store"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("session manager closed")

// Presence is a store presence bridge that can also publish the user's own
// position.
type Presence interface {
	store.Presence
	Publish(ctx context.Context, loc domain.Location) error
}

// PresenceFactory creates the presence bridge of one user session.
type PresenceFactory func(userID string) Presence

// Deps are the shared collaborators of every session.
type Deps struct {
	Rides       repository.RideRepository
	Profiles    repository.ProfileRepository
	Router      store.Router
	Notifier    store.Notifier
	Feed        feed.Source
	NewPresence PresenceFactory
}

// Session is the live state of one user.
type Session struct {
	*store.Store
	presence Presence
}

// PublishLocation shares the user's position with the other party of the
// current ride and records it locally.
func (s *Session) PublishLocation(ctx context.Context, loc domain.Location) error {
	current := s.Current()
	if current == nil {
		return store.ErrNoActiveRide
	}
	if s.presence != nil {
		if err := s.presence.Publish(ctx, loc); err != nil {
			return err
		}
	}
	switch s.Session().Role {
	case domain.RoleDriver:
		s.MergeDriverLocation(current.ID, loc)
	case domain.RolePassenger:
		s.MergePassengerLocation(current.ID, loc)
	}
	return nil
}

type entry struct {
	ready   chan struct{}
	session *Session
	err     error
}

// Manager is the registry of live sessions.
type Manager struct {
	deps Deps
	cfg  store.Config
	log  logrus.FieldLogger

	mu       sync.Mutex
	closed   bool
	sessions map[string]*entry
}

// NewManager creates a new Manager.
func NewManager(deps Deps, cfg store.Config, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg.Logger = log
	return &Manager{
		deps:     deps,
		cfg:      cfg,
		log:      log.WithField("component", "sessions"),
		sessions: make(map[string]*entry),
	}
}

// Get returns the session of userID, creating and bootstrapping it on first
// use. Concurrent callers for the same user share one bootstrap.
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		select {
		case <-e.ready:
			return e.session, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &entry{ready: make(chan struct{})}
	m.sessions[userID] = e
	m.mu.Unlock()

	e.session, e.err = m.open(ctx, userID)
	if e.err != nil {
		m.mu.Lock()
		if m.sessions[userID] == e {
			delete(m.sessions, userID)
		}
		m.mu.Unlock()
	}
	close(e.ready)
	return e.session, e.err
}

func (m *Manager) open(ctx context.Context, userID string) (*Session, error) {
	profile, err := m.deps.Profiles.GetSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	var presence Presence
	if m.deps.NewPresence != nil {
		presence = m.deps.NewPresence(userID)
	}
	auth := &sessionAuth{manager: m, profiles: m.deps.Profiles, session: *profile}

	deps := store.Deps{
		Repo:     m.deps.Rides,
		Auth:     auth,
		Router:   m.deps.Router,
		Notifier: m.deps.Notifier,
		Feed:     m.deps.Feed,
		Presence: presence,
	}
	st := store.New(deps, m.cfg)
	auth.store = st

	// A failed bootstrap leaves a usable store with an error notice; the
	// poller and the feed fill it in later.
	if err := st.Start(ctx); err != nil {
		m.log.WithError(err).WithField("user_id", userID).Warn("session bootstrap failed")
	}
	if st.Snapshot().LoggedOut {
		return nil, repository.ErrSessionExpired
	}

	m.log.WithFields(logrus.Fields{"user_id": userID, "role": profile.Role}).Info("session opened")
	return &Session{Store: st, presence: presence}, nil
}

// Logout ends the session of userID if one is live.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	<-e.ready
	if e.err != nil {
		return nil
	}
	return e.session.Logout(ctx)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	entries := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.session != nil {
			e.session.Close()
		}
	}
}

// forget drops the session of a user whose store logged out. The store may be
// logging out from its own poller, so it is closed asynchronously.
func (m *Manager) forget(userID string, st *store.Store) {
	m.mu.Lock()
	if e, ok := m.sessions[userID]; ok && e.session != nil && e.session.Store == st {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if st != nil {
		go st.Close()
	}
	m.log.WithField("user_id", userID).Info("session closed")
}

// sessionAuth is the store's view of the authenticated user.
type sessionAuth struct {
	manager  *Manager
	profiles repository.ProfileRepository
	store    *store.Store

	mu      sync.Mutex
	session domain.Session
}

func (a *sessionAuth) Session() domain.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *sessionAuth) UpdateProfile(ctx context.Context, patch store.ProfilePatch) error {
	if patch.DriverStatus == "" {
		return nil
	}
	a.mu.Lock()
	userID := a.session.UserID
	a.mu.Unlock()

	if err := a.profiles.UpdateDriverStatus(ctx, userID, patch.DriverStatus); err != nil {
		return err
	}

	a.mu.Lock()
	a.session.DriverStatus = patch.DriverStatus
	a.mu.Unlock()
	return nil
}

func (a *sessionAuth) Logout(ctx context.Context) error {
	a.manager.forget(a.Session().UserID, a.store)
	return nil
}
