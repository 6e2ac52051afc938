package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

// ConflictError tags a failed compare-and-set.
func ConflictError(op, msg string) error {
	return exam.NewError(exam.CodeTransactionConflict, op, msg, nil)
}

// MapError maps driver failures onto engine error codes. Serialization
// failures, deadlocks, lock timeouts and unique violations become
// transaction conflicts so the updater retries them.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *exam.Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return exam.Wrap(exam.CodeContentNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exam.Wrap(exam.CodeInternal, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505", "40001", "40P01", "55P03":
			return exam.Wrap(exam.CodeTransactionConflict, op, err) // unique / serialization / deadlock / lock_not_available
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint failed"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "sqlite_busy"),
		strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"):
		return exam.Wrap(exam.CodeTransactionConflict, op, err)
	default:
		return exam.Wrap(exam.CodeInternal, op, err)
	}
}

func retryable(err error) bool {
	return exam.IsCode(err, exam.CodeTransactionConflict)
}
