package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode classifies a failure. Callers and tests branch on the code,
// never on message text.
type ErrorCode string

const (
	// General errors
	ErrUnknown       ErrorCode = "UNKNOWN"
	ErrInternal      ErrorCode = "INTERNAL"
	ErrInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrNotFound      ErrorCode = "NOT_FOUND"
	ErrAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCancelled     ErrorCode = "CANCELLED"

	// Configuration errors
	ErrConfigLoad  ErrorCode = "CONFIG_LOAD"
	ErrConfigValid ErrorCode = "CONFIG_INVALID"

	// Manifest and preset errors
	ErrManifestInvalid ErrorCode = "MANIFEST_INVALID"
	ErrPresetInvalid   ErrorCode = "PRESET_INVALID"

	// Resolution errors
	ErrConflict ErrorCode = "CONFLICT"

	// Fetch errors
	ErrFetch         ErrorCode = "FETCH"
	ErrIntegrity     ErrorCode = "INTEGRITY"
	ErrSourceUnknown ErrorCode = "SOURCE_UNKNOWN"

	// Installation errors
	ErrFilesystem      ErrorCode = "FILESYSTEM"
	ErrStateStore      ErrorCode = "STATE_STORE"
	ErrDowngrade       ErrorCode = "DOWNGRADE"
	ErrVersionMismatch ErrorCode = "VERSION_MISMATCH"
)

// Error is a coded failure carrying structured context for the CLI
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Wrapped error
}

func build(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Details: map[string]any{}, Wrapped: cause}
}

func (e *Error) Error() string {
	s := "[" + string(e.Code) + "] " + e.Message
	if e.Wrapped == nil {
		return s
	}
	return s + ": " + e.Wrapped.Error()
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches any *Error with the same code, so a bare New(code, "") works
// as a sentinel for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func New(code ErrorCode, message string) *Error {
	return build(code, message, nil)
}

func Newf(code ErrorCode, format string, args ...any) *Error {
	return build(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches code and message to err. A nil err stays nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return build(code, message, err)
}

func Wrapf(err error, code ErrorCode, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return build(code, fmt.Sprintf(format, args...), err)
}

// WithDetail sets one detail and returns e for chaining
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// WithDetails merges details into e, overwriting existing keys
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// Describe renders the message followed by the details in key order,
// which is what the CLI prints.
func (e *Error) Describe() string {
	if len(e.Details) == 0 {
		return e.Error()
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(e.Error())
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %s: %v", k, e.Details[k])
	}
	return b.String()
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsErrorCode reports whether the outermost *Error in err's chain has code
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := asError(err)
	return ok && e.Code == code
}

// GetErrorCode returns the outermost code in err's chain, ErrUnknown if none
func GetErrorCode(err error) ErrorCode {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return ErrUnknown
}

// GetErrorDetails returns the outermost *Error's details, nil if none
func GetErrorDetails(err error) map[string]any {
	if e, ok := asError(err); ok {
		return e.Details
	}
	return nil
}

// GetDetail returns a single detail value, or nil when absent
func GetDetail(err error, key string) any {
	return GetErrorDetails(err)[key]
}
