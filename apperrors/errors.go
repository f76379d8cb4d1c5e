package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeDuplicatePayment  = "DUPLICATE_PAYMENT"
	CodeConflict          = "CONFLICT"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeInvalidScore      = "INVALID_SCORE"
	CodeSettlementFailure = "SETTLEMENT_FAILURE"
	CodeDatabase          = "DATABASE_ERROR"
)

// Reasons attached to INVALID_STATE and SETTLEMENT_FAILURE errors.
const (
	ReasonAlreadyPaid   = "AlreadyPaid"
	ReasonNotFinalized  = "NotFinalized"
	ReasonNotActive     = "NotActive"
	ReasonResolved      = "AlreadyResolved"
	ReasonPayoutClaimed = "PayoutInProgress"
)

// PostgreSQL integrity constraint violation codes.
const (
	PgErrForeignKeyViolation = "23503"
	PgErrUniqueViolation     = "23505"
	PgErrCheckViolation      = "23514"
	PgErrNotNullViolation    = "23502"
)

type AppError struct {
	Code    string
	Reason  string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	code := e.Code
	if e.Reason != "" {
		code = e.Code + "/" + e.Reason
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func Validation(format string, args ...any) *AppError {
	return &AppError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(reason, format string, args ...any) *AppError {
	return &AppError{Code: CodeInvalidState, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func InvalidScore(format string, args ...any) *AppError {
	return &AppError{Code: CodeInvalidScore, Message: fmt.Sprintf(format, args...)}
}

// Settlement wraps a gateway failure, keeping the gateway's reason code.
func Settlement(reason, message string) *AppError {
	return &AppError{Code: CodeSettlementFailure, Reason: reason, Message: message}
}

// CodeOf returns the AppError code in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ReasonOf returns the AppError reason in err's chain, or "" if there is none.
func ReasonOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}

func Is(err error, code string) bool {
	return CodeOf(err) == code
}

// FromDB translates a store error into the taxonomy. Constraint violations become
// CONFLICT (unique) or VALIDATION_ERROR (check, foreign key, not null); a missing
// row becomes NOT_FOUND; anything else is a DATABASE_ERROR. The original error is kept.
func FromDB(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return New(CodeNotFound, message, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return New(CodeConflict, message, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return New(CodeValidation, message, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case PgErrUniqueViolation:
			return New(CodeConflict, message, err)
		case PgErrCheckViolation, PgErrForeignKeyViolation, PgErrNotNullViolation:
			return New(CodeValidation, message, err)
		}
	}

	// Drivers that do not translate every constraint class still name it in the message.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return New(CodeConflict, message, err)
	case strings.Contains(msg, "CHECK constraint failed"), strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return New(CodeValidation, message, err)
	}

	return New(CodeDatabase, message, err)
}

// UniqueViolation reports whether err came from a uniqueness constraint. target is the
// constraint name on PostgreSQL, or the "table.column, ..." list SQLite reports.
func UniqueViolation(err error) (bool, string) {
	if err == nil {
		return false, ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == PgErrUniqueViolation, pgErr.ConstraintName
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true, ""
	}
	const marker = "UNIQUE constraint failed: "
	msg := err.Error()
	if i := strings.Index(msg, marker); i >= 0 {
		target := msg[i+len(marker):]
		if j := strings.IndexAny(target, "()"); j >= 0 {
			target = target[:j]
		}
		return true, strings.TrimSpace(target)
	}
	return false, ""
}
