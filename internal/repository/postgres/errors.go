package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"ridesync/internal/repository"
)

// Classify maps a database error onto the repository error taxonomy.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		br *repository.BusinessRejection
		te *repository.TransportError
		ve *repository.ValidationError
	)
	if errors.As(err, &br) || errors.As(err, &te) || errors.As(err, &ve) || errors.Is(err, repository.ErrNotFound) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPQ(op, pqErr)
	}

	// driver.ErrBadConn, net errors, cancelled contexts and anything else
	// that kept the call from completing.
	return &repository.TransportError{Op: op, Err: err}
}

func classifyPQ(op string, e *pq.Error) error {
	switch e.Code.Class() {
	case "08", "53", "57":
		// connection exception, insufficient resources, operator intervention
		return &repository.TransportError{Op: op, Err: e}
	case "28":
		return fmt.Errorf("%s: %w: %w", op, repository.ErrSessionExpired,
			&repository.BusinessRejection{Op: op, Message: e.Message})
	case "P0", "22", "23", "40":
		// raise_exception, data exception, integrity violation, serialization failure
		return &repository.BusinessRejection{Op: op, Message: e.Message}
	}
	return &repository.TransportError{Op: op, Err: e}
}
