// Package apperr defines the error kinds surfaced to chat users.
//
// Every error that reaches the conversation layer is classified into one
// Kind. The Kind decides where the conversation resumes; the Message is the
// only text a user ever sees. The wrapped Cause is for logs.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the conversation recovers from it.
type Kind string

const (
	// KindInvalidInput is malformed user input; re-prompt the same step.
	KindInvalidInput Kind = "invalid_input"
	// KindAuthentication is a wrong password or a missing login.
	KindAuthentication Kind = "authentication"
	// KindExternalEngine is a quote, submission or initiation failure.
	KindExternalEngine Kind = "external_engine"
	// KindPersistence is a datastore or envelope integrity failure.
	KindPersistence Kind = "persistence"
	// KindNotFound is a referenced wallet, user or order that does not exist.
	KindNotFound Kind = "not_found"
)

// Error is a classified error carrying a user-safe message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Kind, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidInput   = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrAuthentication = &Error{Kind: KindAuthentication, Message: "authentication required"}
	ErrExternalEngine = &Error{Kind: KindExternalEngine, Message: "swap engine error"}
	ErrPersistence    = &Error{Kind: KindPersistence, Message: "storage error"}
	ErrNotFound       = &Error{Kind: KindNotFound, Message: "not found"}
)

// New returns a classified error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap classifies cause under kind with a user-safe message.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// InvalidInput is shorthand for New(KindInvalidInput, msg).
func InvalidInput(msg string) *Error {
	return New(KindInvalidInput, msg)
}

// InvalidInputf formats an invalid input message.
func InvalidInputf(format string, args ...interface{}) *Error {
	return New(KindInvalidInput, fmt.Sprintf(format, args...))
}

// KindOf returns the Kind of the first classified error in err's chain.
// Unclassified errors are reported as KindPersistence so that their text
// never reaches a user.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// genericMessage is shown for storage failures and anything unclassified.
const genericMessage = "Something went wrong on our side. Please try again later."

// UserMessage returns the text that may be shown to a user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindPersistence {
		return genericMessage
	}
	return e.Message
}
