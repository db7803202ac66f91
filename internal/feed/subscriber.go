package feed

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ridesync/internal/repository"
)

// DefaultDedupeWindow is how long an identical event is suppressed.
const DefaultDedupeWindow = 2 * time.Second

// ErrClosed is returned by Sync after Close.
var ErrClosed = errors.New("feed subscriber closed")

// Filter selects the events a subscription receives.
type Filter struct {
	Collections []string
	UserID      string
}

// Sink receives events from a Source.
type Sink interface {
	HandleEvent(Event)
	// HandleReconnect is called after the transport recovered from a gap.
	HandleReconnect()
}

// Source is a push transport for change events.
type Source interface {
	// Subscribe starts delivering events matching filter to sink until the
	// returned function is called.
	Subscribe(filter Filter, sink Sink) (unsubscribe func(), err error)
}

// Reconciler is the single consumer of a session's events.
type Reconciler interface {
	Reconcile(Event)
	Resync()
}

type subscriptionKey struct {
	userID string
	online bool
}

// Subscriber keeps exactly one subscription per (user, online) combination
// and tears the previous one down before opening another.
type Subscriber struct {
	src    Source
	target Reconciler
	log    logrus.FieldLogger
	window time.Duration
	now    func() time.Time

	mu          sync.Mutex
	key         subscriptionKey
	current     *subscription
	unsubscribe func()
	closed      bool
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithDedupeWindow overrides DefaultDedupeWindow.
func WithDedupeWindow(d time.Duration) Option {
	return func(s *Subscriber) { s.window = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Subscriber) { s.now = now }
}

// NewSubscriber creates a Subscriber delivering events from src to target.
func NewSubscriber(src Source, target Reconciler, log logrus.FieldLogger, opts ...Option) *Subscriber {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Subscriber{
		src:    src,
		target: target,
		log:    log.WithField("component", "feed"),
		window: DefaultDedupeWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync makes the live subscription match the session. An empty user or an
// offline session has no subscription.
func (s *Subscriber) Sync(userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	key := subscriptionKey{userID: userID, online: online}
	if s.current != nil && s.key == key {
		return nil
	}
	s.teardownLocked()
	s.key = key

	if userID == "" || !online {
		return nil
	}

	sub := &subscription{
		id:     uuid.NewString(),
		owner:  s,
		seen:   make(map[string]time.Time),
		active: true,
	}
	unsubscribe, err := s.src.Subscribe(Filter{Collections: repository.Collections(), UserID: userID}, sub)
	if err != nil {
		sub.deactivate()
		return err
	}

	s.current = sub
	s.unsubscribe = unsubscribe
	s.log.WithFields(logrus.Fields{"user_id": userID, "subscription_id": sub.id}).Debug("feed subscribed")
	return nil
}

// Active reports whether a subscription is open.
func (s *Subscriber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Close tears down the subscription for good.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.closed = true
}

func (s *Subscriber) teardownLocked() {
	if s.current == nil {
		return
	}
	s.current.deactivate()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.log.WithField("subscription_id", s.current.id).Debug("feed unsubscribed")
	s.current = nil
	s.unsubscribe = nil
}

// subscription is the Sink handed to the Source. Deliveries racing a
// teardown are dropped.
type subscription struct {
	id    string
	owner *Subscriber

	mu     sync.Mutex
	seen   map[string]time.Time
	active bool
}

func (sub *subscription) deactivate() {
	sub.mu.Lock()
	sub.active = false
	sub.mu.Unlock()
}

func (sub *subscription) HandleEvent(ev Event) {
	if !sub.admit(ev) {
		return
	}
	sub.owner.target.Reconcile(ev)
}

func (sub *subscription) HandleReconnect() {
	sub.mu.Lock()
	active := sub.active
	sub.seen = make(map[string]time.Time)
	sub.mu.Unlock()
	if !active {
		return
	}
	sub.owner.log.WithField("subscription_id", sub.id).Info("feed reconnected, resyncing")
	sub.owner.target.Resync()
}

// admit reports whether ev should be delivered, recording it for dedupe.
func (sub *subscription) admit(ev Event) bool {
	now := sub.owner.now()
	key := ev.dedupeKey()

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if !sub.active {
		return false
	}
	for k, at := range sub.seen {
		if now.Sub(at) > sub.owner.window {
			delete(sub.seen, k)
		}
	}
	if _, dup := sub.seen[key]; dup {
		return false
	}
	sub.seen[key] = now
	return true
}
