package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidParameter
	KindDIDError
	KindBackupInProcess
	KindUnauthorized
	KindForbidden
	KindVaultFrozen
	KindNotFound
	KindAlreadyExists
	KindNotImplemented
	KindInsufficientStorage
	KindTooManyRequests
)

// Not-found internal codes reported in the error envelope.
const (
	CodeVaultNotFound       = 1
	CodeBackupNotFound      = 2
	CodeScriptNotFound      = 3
	CodeCollectionNotFound  = 4
	CodePricePlanNotFound   = 5
	CodeFileNotFound        = 6
	CodeOrderNotFound       = 7
	CodeReceiptNotFound     = 8
	CodeApplicationNotFound = 9
)

// Error is the typed error every component returns for expected failures.
// errors.Is matches two *Error values when their kinds are equal, so the
// sentinels below can be used to test the class of any wrapped error.
type Error struct {
	Kind    Kind
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrorInternal            = &Error{Kind: KindInternal, Message: "internal server error"}
	ErrorInvalidParameter    = &Error{Kind: KindInvalidParameter, Message: "invalid parameter"}
	ErrorDID                 = &Error{Kind: KindDIDError, Message: "did error"}
	ErrorBackupInProcess     = &Error{Kind: KindBackupInProcess, Message: "backup in process"}
	ErrorUnauthorized        = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrorForbidden           = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrorVaultFrozen         = &Error{Kind: KindVaultFrozen, Message: "vault frozen"}
	ErrorNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrorAlreadyExists       = &Error{Kind: KindAlreadyExists, Message: "already exists"}
	ErrorNotImplemented      = &Error{Kind: KindNotImplemented, Message: "not implemented"}
	ErrorInsufficientStorage = &Error{Kind: KindInsufficientStorage, Message: "insufficient storage"}
	ErrorTooManyRequests     = &Error{Kind: KindTooManyRequests, Message: "too many requests"}

	// ErrInvalidToken is returned by token parsers; it is an unauthorized error.
	ErrInvalidToken = &Error{Kind: KindUnauthorized, Message: "invalid token"}
)

func newError(kind Kind, code int, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func InvalidParameter(format string, args ...any) error {
	return newError(KindInvalidParameter, 0, format, args...)
}

func DIDError(format string, args ...any) error {
	return newError(KindDIDError, 0, format, args...)
}

func BackupInProcess(format string, args ...any) error {
	return newError(KindBackupInProcess, 0, format, args...)
}

func Unauthorized(format string, args ...any) error {
	return newError(KindUnauthorized, 0, format, args...)
}

func Forbidden(format string, args ...any) error {
	return newError(KindForbidden, 0, format, args...)
}

func VaultFrozen() error {
	return newError(KindVaultFrozen, 0, "vault is frozen")
}

// NotFound builds a not-found error carrying one of the Code* constants.
func NotFound(code int, format string, args ...any) error {
	return newError(KindNotFound, code, format, args...)
}

func AlreadyExists(format string, args ...any) error {
	return newError(KindAlreadyExists, 0, format, args...)
}

func NotImplemented(format string, args ...any) error {
	return newError(KindNotImplemented, 0, format, args...)
}

func InsufficientStorage(format string, args ...any) error {
	return newError(KindInsufficientStorage, 0, format, args...)
}

// Internal wraps an unexpected failure.
func Internal(err error, format string, args ...any) error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err; untyped errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the internal code of a typed error, or 0.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidParameter, KindDIDError, KindBackupInProcess:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden, KindVaultFrozen:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists:
		return 455
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindInsufficientStorage:
		return http.StatusInsufficientStorage
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
