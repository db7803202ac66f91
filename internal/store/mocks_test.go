package store_test

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ridesync/internal/domain"
	"ridesync/internal/feed"
	"ridesync/internal/repository"
	"ridesync/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is an in-memory RideRepository keyed by kind and id.
type MockRideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride

	// Counters for verification
	CreateCallCount        int32
	FetchCallCount         int32
	ListForUserCallCount   int32
	ListAvailableCallCount int32
	AcceptCallCount        int32
	TransitionCallCount    int32
	CancelCallCount        int32
	AddStopCallCount       int32

	// Error injection
	CreateError     error
	FetchError      error
	AcceptError     error
	TransitionError error
	CancelError     error
	AddStopError    error

	LastRoute repository.Route

	// OnAccept runs inside Accept before the ride is claimed.
	OnAccept func(id string)
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		rides: make(map[string]*domain.Ride),
	}
}

// AddRide stores ride as-is.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.Key()] = ride.Clone()
}

// SetStatus changes a ride behind the store's back, as the other party would.
func (m *MockRideRepository) SetStatus(kind domain.Kind, id string, status domain.RideStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rides[string(kind)+":"+id]; ok {
		r.Status = status
	}
}

// SetDriver assigns a ride to a driver behind the store's back.
func (m *MockRideRepository) SetDriver(kind domain.Kind, id, driverID string, status domain.RideStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rides[string(kind)+":"+id]; ok {
		r.DriverID = driverID
		r.Status = status
	}
}

// Delete removes a ride.
func (m *MockRideRepository) Delete(kind domain.Kind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rides, string(kind)+":"+id)
}

// GetRide returns the stored ride for test assertions.
func (m *MockRideRepository) GetRide(kind domain.Kind, id string) *domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rides[string(kind)+":"+id].Clone()
}

func (m *MockRideRepository) Create(ctx context.Context, kind domain.Kind, p repository.CreatePayload) (*domain.Ride, error) {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	mapping, _ := repository.MappingFor(kind)
	ride := &domain.Ride{
		ID:          p.ID,
		Kind:        kind,
		Status:      mapping.InitialStatus,
		PassengerID: p.PassengerID,
		Origin:      p.Origin,
		Stops:       p.Stops,
		Timestamps:  domain.Timestamps{CreatedAt: testNow},
		Fare: domain.Fare{
			EstimatedFare: p.EstimatedFare,
			PrepaidAmount: p.PrepaidAmount,
			PaymentMethod: domain.PaymentMethodCash,
		},
	}
	if p.Destination != nil {
		ride.Destination = *p.Destination
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.Key()] = ride
	return ride.Clone(), nil
}

func (m *MockRideRepository) FetchByID(ctx context.Context, id string, kind domain.Kind) (*domain.Ride, error) {
	atomic.AddInt32(&m.FetchCallCount, 1)
	if m.FetchError != nil {
		return nil, m.FetchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[string(kind)+":"+id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ride.Clone(), nil
}

func (m *MockRideRepository) ListForUser(ctx context.Context, userID string, role domain.Role) ([]*domain.Ride, error) {
	atomic.AddInt32(&m.ListForUserCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Ride
	for _, r := range m.rides {
		if (role == domain.RolePassenger && r.PassengerID == userID) || (role == domain.RoleDriver && r.DriverID == userID) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamps.CreatedAt.After(out[j].Timestamps.CreatedAt)
	})
	return out, nil
}

func (m *MockRideRepository) ListAvailableForDriver(ctx context.Context, driverID string) ([]*domain.Ride, error) {
	atomic.AddInt32(&m.ListAvailableCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Ride
	for _, r := range m.rides {
		if r.Status.IsSearching() && r.DriverID == "" {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRideRepository) Accept(ctx context.Context, id string, kind domain.Kind, driverID string) (*repository.AcceptResult, error) {
	atomic.AddInt32(&m.AcceptCallCount, 1)
	if m.OnAccept != nil {
		m.OnAccept(id)
	}
	if m.AcceptError != nil {
		return nil, m.AcceptError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[string(kind)+":"+id]
	if !ok || ride.DriverID != "" || !ride.Status.IsSearching() {
		return nil, repository.Reject("accept", "", "Ride is no longer available")
	}
	ride.DriverID = driverID
	ride.Status = domain.RideStatusAccepted
	return &repository.AcceptResult{Success: true, Ride: ride.Clone()}, nil
}

func (m *MockRideRepository) Transition(ctx context.Context, id string, kind domain.Kind, target domain.RideStatus, extra repository.TransitionExtra) error {
	atomic.AddInt32(&m.TransitionCallCount, 1)
	if m.TransitionError != nil {
		return m.TransitionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[string(kind)+":"+id]
	if !ok {
		return repository.ErrNotFound
	}
	ride.Status = target
	switch target {
	case domain.RideStatusDriverArrived:
		at := testNow
		ride.Timestamps.ArrivedAt = &at
	case domain.RideStatusCompleted:
		ride.Fare.ActualFare = extra.ActualFare
	}
	return nil
}

func (m *MockRideRepository) Cancel(ctx context.Context, id string, kind domain.Kind, reason string, actor domain.Role, actorID string) (*repository.CancelResult, error) {
	atomic.AddInt32(&m.CancelCallCount, 1)
	if m.CancelError != nil {
		return nil, m.CancelError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[string(kind)+":"+id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if ride.PassengerID != actorID && ride.DriverID != actorID {
		return nil, repository.Reject("cancel", "You are not part of this ride", "")
	}
	if ride.Status.IsTerminal() {
		return nil, repository.Reject("cancel", "Ride is already finished", "")
	}
	ride.Status = domain.CancelStatusFor(actor)
	ride.CancelReason = reason
	return &repository.CancelResult{Message: "Ride cancelled"}, nil
}

func (m *MockRideRepository) AddStop(ctx context.Context, id string, kind domain.Kind, stop domain.Place, route repository.Route) error {
	atomic.AddInt32(&m.AddStopCallCount, 1)
	if m.AddStopError != nil {
		return m.AddStopError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[string(kind)+":"+id]
	if !ok {
		return repository.ErrNotFound
	}
	ride.Stops = append(ride.Stops, stop)
	ride.DistanceKm = route.DistanceKm
	ride.DurationMin = route.DurationMin
	m.LastRoute = route
	return nil
}

func (m *MockRideRepository) GetAuthInfo(ctx context.Context, id string, kind domain.Kind) (*repository.AuthInfo, error) {
	return &repository.AuthInfo{PIN: "4821", QRPayload: "ride:" + id}, nil
}

// ──────────────────────────────────────────────
// MOCK COLLABORATORS
// ──────────────────────────────────────────────

// MockAuth is a mock implementation of store.Auth.
type MockAuth struct {
	mu      sync.Mutex
	session domain.Session
	patches []store.ProfilePatch

	LogoutCallCount int32

	UpdateProfileError error
}

func (m *MockAuth) Session() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *MockAuth) UpdateProfile(ctx context.Context, patch store.ProfilePatch) error {
	if m.UpdateProfileError != nil {
		return m.UpdateProfileError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches = append(m.patches, patch)
	if patch.DriverStatus != "" {
		m.session.DriverStatus = patch.DriverStatus
	}
	return nil
}

func (m *MockAuth) Logout(ctx context.Context) error {
	atomic.AddInt32(&m.LogoutCallCount, 1)
	return nil
}

// Patches returns the profile patches applied so far.
func (m *MockAuth) Patches() []store.ProfilePatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.ProfilePatch(nil), m.patches...)
}

// MockRouter is a mock implementation of store.Router.
type MockRouter struct {
	mu            sync.Mutex
	LastOrigin    domain.Place
	LastWaypoints []domain.Place
	CallCount     int32

	Route      repository.Route
	RouteError error

	// OnCall runs inside CalculateRoute.
	OnCall func()
}

func (m *MockRouter) CalculateRoute(ctx context.Context, origin, destination domain.Place, waypoints []domain.Place) (*repository.Route, error) {
	atomic.AddInt32(&m.CallCount, 1)
	if m.OnCall != nil {
		m.OnCall()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastOrigin = origin
	m.LastWaypoints = append([]domain.Place(nil), waypoints...)
	if m.RouteError != nil {
		return nil, m.RouteError
	}
	route := m.Route
	return &route, nil
}

// MockNotifier records every signal.
type MockNotifier struct {
	mu            sync.Mutex
	sounds        []string
	notifications []domain.Notification
}

func (m *MockNotifier) SendNotification(ctx context.Context, userID string, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MockNotifier) PlaySound(ctx context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sounds = append(m.sounds, key)
	return nil
}

// Sounds returns the sound keys played so far.
func (m *MockNotifier) Sounds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sounds...)
}

// Notifications returns the notifications sent so far.
func (m *MockNotifier) Notifications() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Notification(nil), m.notifications...)
}

// MockPresence tracks whether the bridge is running.
type MockPresence struct {
	mu      sync.Mutex
	running bool
	target  store.PresenceTarget

	onDriverMove func(domain.Location)

	StartCallCount int32
	StopCallCount  int32

	StartError error
}

func (m *MockPresence) Start(ctx context.Context, target store.PresenceTarget, onDriverMove, onPassengerMove func(domain.Location)) error {
	atomic.AddInt32(&m.StartCallCount, 1)
	if m.StartError != nil {
		return m.StartError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.target = target
	m.onDriverMove = onDriverMove
	return nil
}

func (m *MockPresence) Stop() {
	atomic.AddInt32(&m.StopCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

// Running reports whether the bridge is started.
func (m *MockPresence) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Target returns the last target the bridge was started for.
func (m *MockPresence) Target() store.PresenceTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// MoveDriver emits a driver position through the registered callback.
func (m *MockPresence) MoveDriver(loc domain.Location) {
	m.mu.Lock()
	cb := m.onDriverMove
	m.mu.Unlock()
	if cb != nil {
		cb(loc)
	}
}

// MockFeedSource is a mock implementation of feed.Source.
type MockFeedSource struct {
	mu   sync.Mutex
	sink feed.Sink

	SubscribeCallCount   int32
	UnsubscribeCallCount int32
}

func (m *MockFeedSource) Subscribe(filter feed.Filter, sink feed.Sink) (func(), error) {
	atomic.AddInt32(&m.SubscribeCallCount, 1)
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
	return func() { atomic.AddInt32(&m.UnsubscribeCallCount, 1) }, nil
}

// Reconnect signals the latest sink that the transport recovered from a gap.
func (m *MockFeedSource) Reconnect() {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink.HandleReconnect()
	}
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }
