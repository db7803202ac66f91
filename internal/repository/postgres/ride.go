package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"ridesync/internal/domain"
	"ridesync/internal/fare"
	"ridesync/internal/repository"
)

// historyLimit caps the rows read per collection when listing a user's rides.
const historyLimit = 200

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
// Lifecycle changes go through server-side functions that return JSON; rows are
// read with row_to_json and normalized through the kind table.
type RideRepository struct {
	q     Querier
	cache repository.AuthInfoCache
	log   logrus.FieldLogger
	now   func() time.Time

	mu   sync.Mutex
	memo map[string]*repository.AuthInfo
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB, log logrus.FieldLogger) *RideRepository {
	return newRideRepository(db, log)
}

// NewRideRepositoryWithTx creates a ride repository using a transaction.
func NewRideRepositoryWithTx(tx *sql.Tx, log logrus.FieldLogger) *RideRepository {
	return newRideRepository(tx, log)
}

func newRideRepository(q Querier, log logrus.FieldLogger) *RideRepository {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RideRepository{
		q:    q,
		log:  log.WithField("component", "ride_repository"),
		now:  time.Now,
		memo: make(map[string]*repository.AuthInfo),
	}
}

// WithAuthCache shares memoized proof material through cache.
func (r *RideRepository) WithAuthCache(cache repository.AuthInfoCache) *RideRepository {
	r.cache = cache
	return r
}

// rpcResult is the JSON envelope returned by every lifecycle function.
type rpcResult struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Ride      repository.Row `json:"ride"`
	Penalty   *fare.Penalty  `json:"penalty"`
	PIN       string         `json:"pin"`
	QRPayload string         `json:"qr_payload"`
}

// availableRow is one element of list_available_rides.
type availableRow struct {
	Collection string         `json:"collection"`
	Row        repository.Row `json:"row"`
}

func mappingFor(op string, kind domain.Kind) (repository.Mapping, error) {
	m, ok := repository.MappingFor(kind)
	if !ok {
		return m, &repository.ValidationError{Field: "kind", Message: fmt.Sprintf("%s: unknown ride kind %q", op, kind)}
	}
	return m, nil
}

// Create persists a new ride and returns it as stored.
func (r *RideRepository) Create(ctx context.Context, kind domain.Kind, payload repository.CreatePayload) (*domain.Ride, error) {
	if err := repository.ValidatePayload(kind, &payload); err != nil {
		return nil, err
	}
	m, err := mappingFor("create", kind)
	if err != nil {
		return nil, err
	}

	id := payload.ID
	if id == "" {
		id = uuid.NewString()
	}
	row, err := repository.InsertRow(kind, id, payload, r.now())
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(row))
	for c := range row {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, c := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}

	query := fmt.Sprintf(
		`INSERT INTO %s AS t (%s) VALUES (%s) RETURNING row_to_json(t)`,
		pq.QuoteIdentifier(m.Collection),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	data, err := queryJSON(ctx, r.q, "create", query, args...)
	if err != nil {
		return nil, err
	}
	return r.decodeRide(kind, data)
}

// FetchByID retrieves a ride by ID within its kind.
func (r *RideRepository) FetchByID(ctx context.Context, id string, kind domain.Kind) (*domain.Ride, error) {
	m, err := mappingFor("fetch", kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT row_to_json(t) FROM %s t WHERE t.id = $1`, pq.QuoteIdentifier(m.Collection))

	data, err := queryJSON(ctx, r.q, "fetch", query, id)
	if err != nil {
		return nil, err
	}
	return r.decodeRide(kind, data)
}

// ListForUser retrieves a user's rides from every collection, newest first.
// Admin sessions own no rides.
func (r *RideRepository) ListForUser(ctx context.Context, userID string, role domain.Role) ([]*domain.Ride, error) {
	var field repository.Field
	switch role {
	case domain.RolePassenger:
		field = repository.FieldPassengerID
	case domain.RoleDriver:
		field = repository.FieldDriverID
	default:
		return []*domain.Ride{}, nil
	}

	rides := make([]*domain.Ride, 0)
	for _, kind := range domain.Kinds {
		m, _ := repository.MappingFor(kind)
		query := fmt.Sprintf(
			`SELECT row_to_json(t) FROM %s t WHERE t.%s = $1 ORDER BY t.created_at DESC LIMIT %d`,
			pq.QuoteIdentifier(m.Collection), pq.QuoteIdentifier(m.Column(field)), historyLimit,
		)

		kindRides, err := r.queryRides(ctx, kind, query, userID)
		if err != nil {
			return nil, err
		}
		rides = append(rides, kindRides...)
	}

	sort.SliceStable(rides, func(i, j int) bool {
		return rides[i].Timestamps.CreatedAt.After(rides[j].Timestamps.CreatedAt)
	})
	return rides, nil
}

func (r *RideRepository) queryRides(ctx context.Context, kind domain.Kind, query string, args ...any) ([]*domain.Ride, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify("list", err)
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, Classify("list", err)
		}
		ride, err := r.decodeRide(kind, data)
		if err != nil {
			r.log.WithError(err).WithField("kind", kind).Warn("skipping malformed ride row")
			continue
		}
		rides = append(rides, ride)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify("list", err)
	}
	return rides, nil
}

// ListAvailableForDriver retrieves the open requests visible to a driver with
// a single aggregate call.
func (r *RideRepository) ListAvailableForDriver(ctx context.Context, driverID string) ([]*domain.Ride, error) {
	data, err := queryJSON(ctx, r.q, "list_available", `SELECT list_available_rides($1)`, driverID)
	if err != nil {
		return nil, err
	}

	var items []availableRow
	if len(data) > 0 {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("list_available: decode: %w", err)
		}
	}

	rides := make([]*domain.Ride, 0, len(items))
	for _, item := range items {
		kind, ok := repository.KindForCollection(item.Collection)
		if !ok {
			r.log.WithField("collection", item.Collection).Warn("available ride from unknown collection")
			continue
		}
		ride, err := repository.Normalize(kind, item.Row)
		if err != nil {
			r.log.WithError(err).WithField("kind", kind).Warn("skipping malformed available ride")
			continue
		}
		rides = append(rides, ride)
	}
	return rides, nil
}

// Accept attempts to assign the ride to driverID. Losing the race to another
// driver comes back as a BusinessRejection.
func (r *RideRepository) Accept(ctx context.Context, id string, kind domain.Kind, driverID string) (*repository.AcceptResult, error) {
	m, err := mappingFor("accept", kind)
	if err != nil {
		return nil, err
	}

	res, err := r.call(ctx, "accept", `SELECT accept_ride($1, $2, $3)`, id, m.Collection, driverID)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, repository.Reject("accept", res.Message, "Ride is no longer available")
	}

	out := &repository.AcceptResult{Success: true, Message: res.Message}
	if res.Ride != nil {
		if ride, err := repository.Normalize(kind, res.Ride); err == nil {
			out.Ride = ride
		}
	}
	return out, nil
}

// Transition moves a ride to target. Arrival, start and completion go through
// their own server functions; other forward moves are a guarded status update.
func (r *RideRepository) Transition(ctx context.Context, id string, kind domain.Kind, target domain.RideStatus, extra repository.TransitionExtra) error {
	m, err := mappingFor("transition", kind)
	if err != nil {
		return err
	}

	var res *rpcResult
	switch target {
	case domain.RideStatusDriverArrived:
		res, err = r.call(ctx, "driver_arrived", `SELECT mark_driver_arrived($1, $2)`, id, m.Collection)

	case domain.RideStatusInProgress:
		if extra.PIN == "" && extra.QRPayload == "" {
			return &repository.ValidationError{Field: "pin", Message: "a PIN or QR payload is required to start the ride"}
		}
		res, err = r.call(ctx, "start", `SELECT start_ride_with_proof($1, $2, NULLIF($3, ''), NULLIF($4, ''))`,
			id, m.Collection, extra.PIN, extra.QRPayload)

	case domain.RideStatusCompleted:
		if extra.ActualFare < 0 || extra.DriverCash < 0 {
			return &repository.ValidationError{Field: "actual_fare", Message: "amounts must not be negative"}
		}
		res, err = r.call(ctx, "complete", `SELECT complete_ride($1, $2, $3, $4)`,
			id, m.Collection, extra.ActualFare, extra.DriverCash)

	case domain.RideStatusCancelledByDriver, domain.RideStatusCancelledByPassenger:
		return &repository.ValidationError{Field: "status", Message: "cancellation goes through Cancel"}

	default:
		if !target.Valid() {
			return &repository.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", target)}
		}
		return r.updateStatus(ctx, m, id, target)
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return repository.Reject(string(target), res.Message, fmt.Sprintf("Ride cannot move to %s", target))
	}

	r.forgetAuthInfo(ctx, kind, id, target)
	return nil
}

func (r *RideRepository) updateStatus(ctx context.Context, m repository.Mapping, id string, target domain.RideStatus) error {
	from := domain.Predecessors(target)
	if len(from) == 0 {
		return &repository.ValidationError{Field: "status", Message: fmt.Sprintf("%s cannot be set directly", target)}
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := fmt.Sprintf(
		`UPDATE %s SET status = $1, updated_at = now() WHERE id = $2 AND status = ANY($3)`,
		pq.QuoteIdentifier(m.Collection),
	)
	result, err := r.q.ExecContext(ctx, query, string(target), id, pq.Array(allowed))
	if err != nil {
		return Classify("transition", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Classify("transition", err)
	}
	if rowsAffected == 0 {
		return repository.Reject("transition", "", fmt.Sprintf("Ride cannot move to %s from its current status", target))
	}
	return nil
}

// Cancel cancels the ride; the server applies any penalty or refund.
func (r *RideRepository) Cancel(ctx context.Context, id string, kind domain.Kind, reason string, actor domain.Role, actorID string) (*repository.CancelResult, error) {
	m, err := mappingFor("cancel", kind)
	if err != nil {
		return nil, err
	}

	res, err := r.call(ctx, "cancel", `SELECT cancel_ride($1, $2, $3, $4, $5)`, id, m.Collection, reason, string(actor), actorID)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, repository.Reject("cancel", res.Message, "Ride can no longer be cancelled")
	}

	r.forgetAuthInfo(ctx, kind, id, domain.CancelStatusFor(actor))
	return &repository.CancelResult{Message: res.Message, Penalty: res.Penalty}, nil
}

// AddStop appends a stop and stores the recomputed route with it.
func (r *RideRepository) AddStop(ctx context.Context, id string, kind domain.Kind, stop domain.Place, route repository.Route) error {
	if err := repository.ValidatePlace(stop); err != nil {
		return err
	}
	m, err := mappingFor("add_stop", kind)
	if err != nil {
		return err
	}

	stopJSON, err := json.Marshal(stop)
	if err != nil {
		return fmt.Errorf("add_stop: encode stop: %w", err)
	}
	routeJSON, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("add_stop: encode route: %w", err)
	}

	res, err := r.call(ctx, "add_stop", `SELECT add_ride_stop($1, $2, $3::jsonb, $4::jsonb)`,
		id, m.Collection, string(stopJSON), string(routeJSON))
	if err != nil {
		return err
	}
	if !res.Success {
		return repository.Reject("add_stop", res.Message, "Stops can no longer be added to this ride")
	}
	return nil
}

// GetAuthInfo returns the proof material of a ride. Once obtained it is
// memoized so repeated renders and polls do not regenerate it.
func (r *RideRepository) GetAuthInfo(ctx context.Context, id string, kind domain.Kind) (*repository.AuthInfo, error) {
	m, err := mappingFor("auth_info", kind)
	if err != nil {
		return nil, err
	}
	key := memoKey(kind, id)

	r.mu.Lock()
	info, ok := r.memo[key]
	r.mu.Unlock()
	if ok {
		return info, nil
	}

	if r.cache != nil {
		cached, err := r.cache.GetAuthInfo(ctx, kind, id)
		if err != nil {
			r.log.WithError(err).WithField("ride_id", id).Warn("auth info cache read failed")
		} else if cached != nil {
			r.remember(key, cached)
			return cached, nil
		}
	}

	res, err := r.call(ctx, "auth_info", `SELECT get_ride_auth_info($1, $2)`, id, m.Collection)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, repository.Reject("auth_info", res.Message, "Ride has no active proof material")
	}

	info = &repository.AuthInfo{PIN: res.PIN, QRPayload: res.QRPayload}
	r.remember(key, info)
	if r.cache != nil {
		if err := r.cache.SetAuthInfo(ctx, kind, id, info); err != nil {
			r.log.WithError(err).WithField("ride_id", id).Warn("auth info cache write failed")
		}
	}
	return info, nil
}

func (r *RideRepository) remember(key string, info *repository.AuthInfo) {
	r.mu.Lock()
	r.memo[key] = info
	r.mu.Unlock()
}

// forgetAuthInfo drops the memoized proof once it can no longer be used.
func (r *RideRepository) forgetAuthInfo(ctx context.Context, kind domain.Kind, id string, status domain.RideStatus) {
	if status != domain.RideStatusInProgress && !status.IsTerminal() {
		return
	}
	r.mu.Lock()
	delete(r.memo, memoKey(kind, id))
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.InvalidateAuthInfo(ctx, kind, id); err != nil {
			r.log.WithError(err).WithField("ride_id", id).Warn("auth info cache invalidation failed")
		}
	}
}

func memoKey(kind domain.Kind, id string) string {
	return string(kind) + ":" + id
}

// call runs a JSON-returning server function and decodes its envelope.
func (r *RideRepository) call(ctx context.Context, op, query string, args ...any) (*rpcResult, error) {
	data, err := queryJSON(ctx, r.q, op, query, args...)
	if err != nil {
		return nil, err
	}

	var res rpcResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%s: decode result: %w", op, err)
	}
	return &res, nil
}

func (r *RideRepository) decodeRide(kind domain.Kind, data []byte) (*domain.Ride, error) {
	var row repository.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode %s ride: %w", kind, err)
	}
	return repository.Normalize(kind, row)
}
