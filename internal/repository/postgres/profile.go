package postgres

import (
	"context"
	"database/sql"

	"ridesync/internal/domain"
	"ridesync/internal/repository"
)

// ProfileRepository is a PostgreSQL implementation of repository.ProfileRepository.
type ProfileRepository struct {
	q Querier
}

// NewProfileRepository creates a new PostgreSQL profile repository.
func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{q: db}
}

// NewProfileRepositoryWithTx creates a profile repository using a transaction.
func NewProfileRepositoryWithTx(tx *sql.Tx) *ProfileRepository {
	return &ProfileRepository{q: tx}
}

// GetSession loads the role and driver status of a user.
func (r *ProfileRepository) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	query := `SELECT id, role, COALESCE(driver_status, '') FROM profiles WHERE id = $1`

	var session domain.Session
	err := r.q.QueryRowContext(ctx, query, userID).Scan(
		&session.UserID,
		&session.Role,
		&session.DriverStatus,
	)
	if err != nil {
		return nil, Classify("get_profile", err)
	}

	return &session, nil
}

// UpdateDriverStatus updates the availability of a driver.
func (r *ProfileRepository) UpdateDriverStatus(ctx context.Context, userID string, status domain.DriverStatus) error {
	query := `UPDATE profiles SET driver_status = $1, updated_at = now() WHERE id = $2 AND role = 'driver'`

	result, err := r.q.ExecContext(ctx, query, status, userID)
	if err != nil {
		return Classify("update_profile", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Classify("update_profile", err)
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Ensure interfaces are satisfied.
var (
	_ repository.RideRepository    = (*RideRepository)(nil)
	_ repository.ProfileRepository = (*ProfileRepository)(nil)
)
