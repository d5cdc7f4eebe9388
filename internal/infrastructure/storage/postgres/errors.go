package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pharmapos/internal/core/apperror"
)

// SQLSTATE codes the stores react to.
const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgQueryCanceled        = "57014"
)

// PgCode returns the SQLSTATE of err, or "".
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return PgCode(err) == pgUniqueViolation
}

// IsCheckViolation reports a CHECK constraint violation.
func IsCheckViolation(err error) bool {
	return PgCode(err) == pgCheckViolation
}

// TranslateError maps driver failures to AppErrors so callers can tell transient
// trouble (DATABASE_ERROR, TIMEOUT_ERROR) from final outcomes.
// Errors that already carry an AppError are returned unchanged.
func TranslateError(err error) error {
	if err == nil || apperror.IsAppError(err) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || PgCode(err) == pgQueryCanceled {
		return apperror.NewTimeout(err)
	}
	switch PgCode(err) {
	case pgForeignKeyViolation:
		return apperror.NewValidation("referenced record does not exist").WithCause(err)
	case pgUniqueViolation:
		return apperror.NewConflict("record already exists").WithCause(err)
	}
	return apperror.NewDatabase(err)
}
