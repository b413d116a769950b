package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUserNotFound indicates an unknown user id.
	ErrUserNotFound = wrapNotFound("user not found")
	// ErrRoleNotFound indicates an unknown role id or code.
	ErrRoleNotFound = wrapNotFound("role not found")
	// ErrResourceNotFound indicates an unknown catalog resource id.
	ErrResourceNotFound = wrapNotFound("resource not found")
	// ErrRecordNotFound indicates the record store has no such record.
	ErrRecordNotFound = wrapNotFound("record not found")

	// ErrInvalidTier rejects tier values that are not on the ladder.
	ErrInvalidTier = errors.New("invalid tier")
	// ErrPermissionDenied is returned when the resolved tier is insufficient.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConflictingGrant reports a grant race detected by the database. Retry the single upsert.
	ErrConflictingGrant = errors.New("conflicting grant")
	// ErrAuditWriteFailed marks a mutation rolled back because its audit entries could not be written.
	ErrAuditWriteFailed = errors.New("audit write failed")
	// ErrSystemProtected blocks destructive changes to built-in roles.
	ErrSystemProtected = errors.New("role is system protected")
	// ErrAlreadyApplied indicates the idempotency key was already consumed by a committed mutation.
	ErrAlreadyApplied = errors.New("idempotent request already processed")
	// ErrValidation wraps malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate indicates a unique key collision.
	ErrDuplicate = errors.New("duplicate entry")
)

type notFoundError struct {
	msg string
}

func wrapNotFound(msg string) error {
	return &notFoundError{msg: msg}
}

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Unwrap() error { return ErrNotFound }

// PostgreSQL error codes mapped by repositories.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

// IsForeignKeyViolation reports whether err is a foreign key failure.
func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == pgForeignKeyViolation
}

// IsRetryable reports serialization failures and deadlocks.
func IsRetryable(err error) bool {
	switch pgCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return true
	}
	return false
}
