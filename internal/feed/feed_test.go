package feed

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridesync/internal/domain"
	"ridesync/internal/repository"
)

// mockSource records subscriptions and lets tests push events into them.
type mockSource struct {
	mu           sync.Mutex
	sinks        []Sink
	filters      []Filter
	unsubscribed atomic.Int32
	subscribeErr error
}

func (m *mockSource) Subscribe(filter Filter, sink Sink) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.sinks = append(m.sinks, sink)
	m.filters = append(m.filters, filter)
	return func() { m.unsubscribed.Add(1) }, nil
}

func (m *mockSource) sink(i int) Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sinks[i]
}

func (m *mockSource) subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sinks)
}

type mockReconciler struct {
	mu      sync.Mutex
	events  []Event
	resyncs int
}

func (m *mockReconciler) Reconcile(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockReconciler) Resync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resyncs++
}

func (m *mockReconciler) count() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events), m.resyncs
}

func rideEvent(typ EventType, id string, status domain.RideStatus, updatedAt string) Event {
	return Event{
		Collection: "rides",
		Kind:       domain.KindImmediate,
		Type:       typ,
		New:        repository.Row{"id": id, "status": string(status), "updated_at": updatedAt},
	}
}

func newTestSubscriber(src Source, target Reconciler, now *time.Time) *Subscriber {
	log, _ := test.NewNullLogger()
	return NewSubscriber(src, target, log, WithClock(func() time.Time { return *now }))
}

func TestSubscriber_OneSubscriptionPerKey(t *testing.T) {
	src := &mockSource{}
	now := time.Now()
	sub := newTestSubscriber(src, &mockReconciler{}, &now)

	require.NoError(t, sub.Sync("u-1", true))
	require.NoError(t, sub.Sync("u-1", true))
	assert.Equal(t, 1, src.subscriptions())
	assert.ElementsMatch(t, repository.Collections(), src.filters[0].Collections)
	assert.Equal(t, "u-1", src.filters[0].UserID)

	require.NoError(t, sub.Sync("u-2", true))
	assert.Equal(t, 2, src.subscriptions())
	assert.Equal(t, int32(1), src.unsubscribed.Load())
	assert.True(t, sub.Active())
}

func TestSubscriber_TeardownOnOfflineAndLogout(t *testing.T) {
	src := &mockSource{}
	now := time.Now()
	sub := newTestSubscriber(src, &mockReconciler{}, &now)

	require.NoError(t, sub.Sync("u-1", true))
	require.NoError(t, sub.Sync("u-1", false))
	assert.False(t, sub.Active())
	assert.Equal(t, int32(1), src.unsubscribed.Load())

	require.NoError(t, sub.Sync("u-1", true))
	require.NoError(t, sub.Sync("", true))
	assert.False(t, sub.Active())
	assert.Equal(t, int32(2), src.unsubscribed.Load())

	require.NoError(t, sub.Sync("u-1", true))
	sub.Close()
	assert.Equal(t, int32(3), src.unsubscribed.Load())
	assert.ErrorIs(t, sub.Sync("u-1", true), ErrClosed)
}

func TestSubscriber_DropsDeliveriesFromTornDownSubscription(t *testing.T) {
	src := &mockSource{}
	target := &mockReconciler{}
	now := time.Now()
	sub := newTestSubscriber(src, target, &now)

	require.NoError(t, sub.Sync("u-1", true))
	old := src.sink(0)
	require.NoError(t, sub.Sync("u-1", false))

	old.HandleEvent(rideEvent(EventUpdate, "r-1", domain.RideStatusAccepted, "t1"))
	old.HandleReconnect()

	events, resyncs := target.count()
	assert.Zero(t, events)
	assert.Zero(t, resyncs)
}

func TestSubscriber_DedupesWithinWindow(t *testing.T) {
	src := &mockSource{}
	target := &mockReconciler{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := newTestSubscriber(src, target, &now)
	require.NoError(t, sub.Sync("u-1", true))
	sink := src.sink(0)

	ev := rideEvent(EventUpdate, "r-1", domain.RideStatusAccepted, "t1")
	sink.HandleEvent(ev)
	sink.HandleEvent(ev)

	// Same ride, new status is a different change.
	sink.HandleEvent(rideEvent(EventUpdate, "r-1", domain.RideStatusDriverArriving, "t2"))

	now = now.Add(3 * time.Second)
	sink.HandleEvent(ev)

	events, _ := target.count()
	assert.Equal(t, 3, events)
}

func TestSubscriber_ReconnectTriggersResync(t *testing.T) {
	src := &mockSource{}
	target := &mockReconciler{}
	now := time.Now()
	sub := newTestSubscriber(src, target, &now)
	require.NoError(t, sub.Sync("u-1", true))

	src.sink(0).HandleReconnect()

	_, resyncs := target.count()
	assert.Equal(t, 1, resyncs)
}

func TestSubscriber_SubscribeErrorLeavesNoSubscription(t *testing.T) {
	src := &mockSource{subscribeErr: errors.New("dial tcp: connection refused")}
	now := time.Now()
	sub := newTestSubscriber(src, &mockReconciler{}, &now)

	assert.Error(t, sub.Sync("u-1", true))
	assert.False(t, sub.Active())

	src.subscribeErr = nil
	require.NoError(t, sub.Sync("u-1", true))
	assert.True(t, sub.Active())
}

func TestParseEvent(t *testing.T) {
	at := time.Now()
	ev, err := ParseEvent([]byte(`{"collection":"hourly_bookings","event":"UPDATE","old":{"id":"h-1","status":"pending"},"new":{"id":"h-1","status":"accepted","driver_id":"d-1"}}`), at)
	require.NoError(t, err)

	assert.Equal(t, domain.KindHourly, ev.Kind)
	assert.Equal(t, EventUpdate, ev.Type)
	assert.Equal(t, "h-1", ev.RideID())
	assert.Equal(t, domain.RideStatusAccepted, ev.Status())
	assert.True(t, ev.AssignsDriver("d-1"))
	assert.False(t, ev.AssignsDriver("d-2"))
	assert.False(t, ev.IsNewRequest())

	del, err := ParseEvent([]byte(`{"collection":"rides","event":"delete","old":{"id":"r-9","status":"searching"}}`), at)
	require.NoError(t, err)
	assert.Equal(t, "r-9", del.RideID())
	assert.False(t, del.AssignsDriver("d-1"))

	for _, bad := range []string{
		`not json`,
		`{"collection":"drivers","event":"insert","new":{"id":"x"}}`,
		`{"collection":"rides","event":"truncate","new":{"id":"x"}}`,
		`{"collection":"rides","event":"insert","new":{}}`,
	} {
		_, err := ParseEvent([]byte(bad), at)
		assert.Error(t, err, bad)
	}
}

func TestEvent_IsNewRequest(t *testing.T) {
	assert.True(t, rideEvent(EventInsert, "r-1", domain.RideStatusSearching, "").IsNewRequest())
	assert.False(t, rideEvent(EventInsert, "r-1", domain.RideStatusPending, "").IsNewRequest())
	assert.False(t, rideEvent(EventUpdate, "r-1", domain.RideStatusSearching, "").IsNewRequest())
}

// fakeListener stands in for *pq.Listener.
type fakeListener struct {
	ch        chan *pq.Notification
	channels  []string
	closed    atomic.Bool
	listenErr error
}

func (f *fakeListener) Listen(channel string) error {
	f.channels = append(f.channels, channel)
	return f.listenErr
}

func (f *fakeListener) NotificationChannel() <-chan *pq.Notification { return f.ch }
func (f *fakeListener) Ping() error                                  { return nil }
func (f *fakeListener) Close() error {
	f.closed.Store(true)
	return nil
}

type chanSink struct {
	events     chan Event
	reconnects atomic.Int32
}

func (c *chanSink) HandleEvent(ev Event) { c.events <- ev }
func (c *chanSink) HandleReconnect()     { c.reconnects.Add(1) }

func TestPGListenerSource_ForwardsFilteredEvents(t *testing.T) {
	fl := &fakeListener{ch: make(chan *pq.Notification, 4)}
	var cb pq.EventCallbackType
	log, _ := test.NewNullLogger()
	src := NewPGListenerSourceWithFactory(func(c pq.EventCallbackType) Listener {
		cb = c
		return fl
	}, DefaultChannel, log)

	sink := &chanSink{events: make(chan Event, 4)}
	unsubscribe, err := src.Subscribe(Filter{Collections: []string{"rides"}}, sink)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultChannel}, fl.channels)

	fl.ch <- &pq.Notification{Channel: DefaultChannel, Extra: `{"collection":"package_deliveries","event":"insert","new":{"id":"d-1","status":"searching"}}`}
	fl.ch <- &pq.Notification{Channel: DefaultChannel, Extra: `garbage`}
	fl.ch <- nil
	fl.ch <- &pq.Notification{Channel: DefaultChannel, Extra: `{"collection":"rides","event":"insert","new":{"id":"r-1","status":"searching"}}`}

	select {
	case ev := <-sink.events:
		assert.Equal(t, "r-1", ev.RideID())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cb(pq.ListenerEventReconnected, nil)
	assert.Equal(t, int32(1), sink.reconnects.Load())

	unsubscribe()
	unsubscribe()
	assert.Eventually(t, fl.closed.Load, 2*time.Second, 10*time.Millisecond)

	cb(pq.ListenerEventReconnected, nil)
	assert.Equal(t, int32(1), sink.reconnects.Load())
}

func TestPGListenerSource_ListenFailureClosesListener(t *testing.T) {
	fl := &fakeListener{ch: make(chan *pq.Notification), listenErr: errors.New("connection refused")}
	src := NewPGListenerSourceWithFactory(func(pq.EventCallbackType) Listener { return fl }, DefaultChannel, nil)

	_, err := src.Subscribe(Filter{}, &chanSink{events: make(chan Event)})
	assert.Error(t, err)
	assert.True(t, fl.closed.Load())
}
