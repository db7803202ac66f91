package postgres

import (
	"context"
	"database/sql"
)

// Querier is an interface satisfied by both *sql.DB and *sql.Tx, so ride
// and profile repositories can join a caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ensure interfaces are satisfied.
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// queryJSON runs a statement that yields a single json value, such as
// row_to_json or a server function, and returns its raw bytes. Driver errors
// come back classified under op.
func queryJSON(ctx context.Context, q Querier, op, query string, args ...any) ([]byte, error) {
	var data []byte
	if err := q.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		return nil, Classify(op, err)
	}
	return data, nil
}
