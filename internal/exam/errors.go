package exam

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies engine failures by how they must be surfaced.
type ErrorCode string

const (
	CodeAuthRequired        ErrorCode = "auth_required"
	CodeAccessDenied        ErrorCode = "access_denied"
	CodeContentNotFound     ErrorCode = "content_not_found"
	CodeNotYetMaterialized  ErrorCode = "not_yet_materialized"
	CodeTransactionConflict ErrorCode = "transaction_conflict"
	CodeSubmissionFailure   ErrorCode = "submission_failure"
	CodeValidation          ErrorCode = "validation"
	CodeSessionNotActive    ErrorCode = "session_not_active"
	CodeInternal            ErrorCode = "internal"
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match on code against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Code == e.Code
}

func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: strings.TrimSpace(message), Cause: cause}
}

func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(code, op, err.Error(), err)
}

func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func CodeOf(err error) ErrorCode {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

var (
	ErrAuthRequired       = &Error{Code: CodeAuthRequired}
	ErrAccessDenied       = &Error{Code: CodeAccessDenied}
	ErrContentNotFound    = &Error{Code: CodeContentNotFound}
	ErrNotYetMaterialized = &Error{Code: CodeNotYetMaterialized}
	ErrConflict           = &Error{Code: CodeTransactionConflict}
	ErrSubmissionFailure  = &Error{Code: CodeSubmissionFailure}
	ErrSessionNotActive   = &Error{Code: CodeSessionNotActive}
)

func Validation(op, msg string) error {
	return NewError(CodeValidation, op, msg, nil)
}

func NotFound(op, msg string) error {
	return NewError(CodeContentNotFound, op, msg, nil)
}

// InstanceClosed reports an instance that already has its result. An
// instance is attempted once.
func InstanceClosed(op, instanceID string) error {
	return NewError(CodeContentNotFound, op, "instance already completed: "+instanceID, nil)
}
