package authcore

import "errors"

// ErrorKind is the closed set of failure categories the Engine reports. Callers
// switch on it (or on the sentinels below) to pick a transport status.
type ErrorKind uint8

const (
	// KindNone is returned by KindOf for a nil error.
	KindNone ErrorKind = iota
	KindInvalidInput
	KindInvalidCredentials
	KindUserExists
	KindUserNotFound
	KindInvalidRefreshToken
	KindRefreshTokenExpired
	KindRefreshTokenReuse
	KindUserAccountInactive
	KindInvalidAccessToken
	KindStorage
	KindInternal
	KindEngineNotReady
)

var kindCodes = [...]string{
	KindNone:                "",
	KindInvalidInput:        "INVALID_INPUT",
	KindInvalidCredentials:  "INVALID_CREDENTIALS",
	KindUserExists:          "USER_EXISTS",
	KindUserNotFound:        "USER_NOT_FOUND",
	KindInvalidRefreshToken: "INVALID_REFRESH_TOKEN",
	KindRefreshTokenExpired: "REFRESH_TOKEN_EXPIRED",
	KindRefreshTokenReuse:   "REFRESH_TOKEN_REUSE_DETECTED",
	KindUserAccountInactive: "USER_ACCOUNT_INACTIVE",
	KindInvalidAccessToken:  "INVALID_ACCESS_TOKEN",
	KindStorage:             "STORAGE_FAILURE",
	KindInternal:            "INTERNAL",
	KindEngineNotReady:      "ENGINE_NOT_READY",
}

// String returns the stable wire code, e.g. "REFRESH_TOKEN_REUSE_DETECTED".
func (k ErrorKind) String() string {
	if int(k) < len(kindCodes) {
		return kindCodes[k]
	}
	return kindCodes[KindInternal]
}

// Error is the only error type returned across the Engine surface.
//
// Two Errors match under errors.Is when their kinds are equal, so
// errors.Is(err, ErrInvalidInput) holds for every field-specific input error.
// Unwrap exposes the underlying storage failure, if any.
type Error struct {
	Kind  ErrorKind
	Field string
	cause error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Is reports kind equality with another *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) Unwrap() error { return e.cause }

var (
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrInvalidCredentials  = &Error{Kind: KindInvalidCredentials}
	ErrUserExists          = &Error{Kind: KindUserExists}
	ErrUserNotFound        = &Error{Kind: KindUserNotFound}
	ErrInvalidRefreshToken = &Error{Kind: KindInvalidRefreshToken}
	ErrRefreshTokenExpired = &Error{Kind: KindRefreshTokenExpired}
	ErrRefreshTokenReuse   = &Error{Kind: KindRefreshTokenReuse}
	ErrUserAccountInactive = &Error{Kind: KindUserAccountInactive}
	ErrInvalidAccessToken  = &Error{Kind: KindInvalidAccessToken}
	ErrStorage             = &Error{Kind: KindStorage}
	ErrInternal            = &Error{Kind: KindInternal}
	ErrEngineNotReady      = &Error{Kind: KindEngineNotReady}
)

// KindOf maps err to its ErrorKind. Errors that did not originate in this package
// report KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func invalidInput(field string) error {
	return &Error{Kind: KindInvalidInput, Field: field}
}

func storageFailure(cause error) error {
	return &Error{Kind: KindStorage, cause: cause}
}

func internalFailure(cause error) error {
	return &Error{Kind: KindInternal, cause: cause}
}
