package feed

import (
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the NOTIFY channel the ride triggers publish on.
const DefaultChannel = "ride_changes"

// Listener is the part of *pq.Listener the source uses.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// ListenerFactory opens a listener that reports connection events to cb.
type ListenerFactory func(cb pq.EventCallbackType) Listener

// PGListenerSource delivers change events from Postgres LISTEN/NOTIFY. All
// four collections publish on one channel so a subscription is a single
// LISTEN that is torn down atomically.
type PGListenerSource struct {
	open         ListenerFactory
	channel      string
	pingInterval time.Duration
	log          logrus.FieldLogger
	now          func() time.Time
}

// NewPGListenerSource creates a source backed by pq.NewListener on dsn.
func NewPGListenerSource(dsn string, log logrus.FieldLogger) *PGListenerSource {
	factory := func(cb pq.EventCallbackType) Listener {
		return pq.NewListener(dsn, 2*time.Second, time.Minute, cb)
	}
	return NewPGListenerSourceWithFactory(factory, DefaultChannel, log)
}

// NewPGListenerSourceWithFactory creates a source using a custom listener factory.
func NewPGListenerSourceWithFactory(open ListenerFactory, channel string, log logrus.FieldLogger) *PGListenerSource {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PGListenerSource{
		open:         open,
		channel:      channel,
		pingInterval: 90 * time.Second,
		log:          log.WithField("component", "pg_listener"),
		now:          time.Now,
	}
}

// Subscribe opens a listener and forwards matching notifications to sink.
// The returned function does not wait for an in-flight delivery.
func (s *PGListenerSource) Subscribe(filter Filter, sink Sink) (func(), error) {
	var (
		mu   sync.Mutex
		done bool
	)

	callback := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			s.log.WithError(err).Warn("change feed connection attempt failed")
		case pq.ListenerEventDisconnected:
			s.log.WithError(err).Warn("change feed disconnected")
		case pq.ListenerEventReconnected:
			mu.Lock()
			stopped := done
			mu.Unlock()
			if !stopped {
				sink.HandleReconnect()
			}
		}
	}

	l := s.open(callback)
	if err := l.Listen(s.channel); err != nil {
		l.Close()
		return nil, err
	}

	allowed := make(map[string]bool, len(filter.Collections))
	for _, c := range filter.Collections {
		allowed[c] = true
	}

	stop := make(chan struct{})
	go s.loop(l, allowed, sink, stop)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mu.Lock()
			done = true
			mu.Unlock()
			close(stop)
		})
	}
	return unsubscribe, nil
}

func (s *PGListenerSource) loop(l Listener, allowed map[string]bool, sink Sink, stop <-chan struct{}) {
	defer l.Close()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case n, ok := <-l.NotificationChannel():
			if !ok {
				return
			}
			if n == nil {
				// pq sends nil after re-establishing the connection; the
				// reconnect callback has already triggered a resync.
				continue
			}
			ev, err := ParseEvent([]byte(n.Extra), s.now())
			if err != nil {
				s.log.WithError(err).Warn("dropping malformed change event")
				continue
			}
			if len(allowed) > 0 && !allowed[ev.Collection] {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			sink.HandleEvent(ev)
		case <-ticker.C:
			go func() {
				if err := l.Ping(); err != nil {
					s.log.WithError(err).Debug("change feed ping failed")
				}
			}()
		}
	}
}
