// Package apperror defines the error taxonomy shared by every layer.
//
// Services return these errors (usually wrapped with fmt.Errorf("...: %w")),
// and the HTTP handlers translate them into status codes with errors.Is.
// Nothing in here knows about HTTP.
//
// ERROR KINDS:
//   - ErrValidation          → request input broke a declared constraint
//   - ErrInvalidCredentials  → email/password pair did not authenticate
//   - ErrUnauthenticated     → missing, malformed, or revoked bearer token
//   - ErrNotFound            → resource absent OR owned by somebody else
//   - ErrExternalAuth        → the identity provider rejected the token/code
//   - ErrConflict            → a store uniqueness constraint fired
package apperror

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrExternalAuth       = errors.New("external authentication failed")
)

// AppError carries a client-safe message next to the sentinel it wraps.
type AppError struct {
	Err     error  // sentinel from the list above
	Message string // human-readable, safe to show to clients
	Field   string // optional: single offending field

	// Fields maps field name → messages for multi-field validation failures.
	Fields map[string][]string
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound builds the error returned for a missing (or foreign) resource.
// The message intentionally omits the id so ownership can't be probed.
func NotFound(resource string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Fields:  map[string][]string{field: {message}},
	}
}

// ValidationFields wraps a whole field → messages map. The top-level message
// is the first message of the alphabetically first field, so output is stable.
func ValidationFields(fields map[string][]string) *AppError {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	msg := "The given data was invalid."
	field := ""
	if len(names) > 0 && len(fields[names[0]]) > 0 {
		field = names[0]
		msg = fields[field][0]
	}

	return &AppError{
		Err:     ErrValidation,
		Message: msg,
		Field:   field,
		Fields:  fields,
	}
}

// Conflict reports a uniqueness clash. field is the request field the client
// can fix ("" when none applies); message is shown as-is, so it must not name
// tables or columns.
func Conflict(field, message string) *AppError {
	e := &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
	if field != "" {
		e.Fields = map[string][]string{field: {message}}
	}
	return e
}

// InvalidCredentials is the one message used for every failed password
// login, whatever the actual reason.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "The provided credentials are incorrect.",
		Field:   "email",
		Fields:  map[string][]string{"email": {"The provided credentials are incorrect."}},
	}
}

func Unauthenticated() *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: "Unauthenticated.",
	}
}

// ExternalAuth reports that the identity provider refused us.
func ExternalAuth(message string) *AppError {
	return &AppError{
		Err:     ErrExternalAuth,
		Message: message,
	}
}
