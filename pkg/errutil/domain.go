package errutil

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Business outcome kinds. They travel inside BaseError.Err so callers can branch with errors.Is
// while the transport layer still renders the BaseError code.
var (
	ErrExhausted         = errors.New("quota exhausted")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrPolicyViolation   = errors.New("policy violation")
	ErrIntegrity         = errors.New("integrity violation")
)

func InvalidTransition(msg string, options ...Option) error {
	return Conflict(msg, ErrInvalidTransition, options...)
}

func PolicyViolation(msg string, options ...Option) error {
	return UnprocessableEntity(msg, ErrPolicyViolation, options...)
}

// Integrity wraps cause so both errors.Is(err, ErrIntegrity) and errors.Is(err, cause) hold.
func Integrity(msg string, cause error) error {
	return Internal(msg, errors.Join(ErrIntegrity, cause))
}

func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
func IsPolicyViolation(err error) bool   { return errors.Is(err, ErrPolicyViolation) }
func IsIntegrity(err error) bool         { return errors.Is(err, ErrIntegrity) }

// IsUniqueViolation reports whether err came from a unique index rejecting an insert.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
