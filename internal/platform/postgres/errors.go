package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/grimoire/internal/store"
)

// PostgreSQL error codes
const (
	// uniqueViolationCode is the PostgreSQL error code for unique constraint violations
	uniqueViolationCode = "23505"

	// foreignKeyViolationCode is the PostgreSQL error code for foreign key violations
	foreignKeyViolationCode = "23503"

	// checkViolationCode is the PostgreSQL error code for check constraint violations
	checkViolationCode = "23514"

	// notNullViolationCode is the PostgreSQL error code for not null violations
	notNullViolationCode = "23502"
)

// PostgreSQL error code classes indicating transient infrastructure faults.
const (
	connectionExceptionClass   = "08" // connection failures
	insufficientResourcesClass = "53" // out of memory/disk/connections
	operatorInterventionClass  = "57" // shutdown, admin cancel
)

// uniqueVersionConstraint is the unique index enforcing contiguous,
// duplicate-free per-stream versions. A violation here is a losing
// concurrent writer, not a data fault.
const uniqueVersionConstraint = "events_stream_id_stream_type_version_key"

// MapError maps a database error to an appropriate store error.
// It wraps the original error to preserve context and provide better
// debugging information. All database operations route errors through here
// to keep the taxonomy consistent.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			if pgErr.ConstraintName == uniqueVersionConstraint {
				return fmt.Errorf("%w: %v", store.ErrVersionConflict, err)
			}
			return fmt.Errorf("%w: unique violation (%s): %v",
				store.ErrValidation, pgErr.ConstraintName, err)
		case foreignKeyViolationCode, checkViolationCode, notNullViolationCode:
			return fmt.Errorf("%w: constraint violation (%s): %v",
				store.ErrValidation, pgErr.ConstraintName, err)
		}

		class := errorClass(pgErr.Code)
		if class == connectionExceptionClass ||
			class == insufficientResourcesClass ||
			class == operatorInterventionClass {
			return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
		}

		return err
	}

	// Driver-level connection failures surface as plain errors.
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset") {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}

	return err
}

func errorClass(code string) string {
	if len(code) < 2 {
		return code
	}
	return code[:2]
}

// IsUniqueViolation checks if the given error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CheckRowsAffected examines the number of rows affected by a database operation.
// If no rows were affected, it returns store.ErrNotFound.
func CheckRowsAffected(result sql.Result, entityName string) error {
	if result == nil {
		return fmt.Errorf("nil result provided to CheckRowsAffected")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if entityName == "" {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %s not found", store.ErrNotFound, entityName)
	}

	return nil
}
