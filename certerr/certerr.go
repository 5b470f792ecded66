// Package certerr defines the structured error taxonomy shared by the
// certificate ledger packages.
package certerr

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	// KindInputTooLarge: a field's encoded length exceeds its budget.
	KindInputTooLarge Kind = "InputTooLarge"
	// KindAlreadyExists: a record already occupies the derived address.
	KindAlreadyExists Kind = "AlreadyExists"
	// KindAuthorization: the authority proof is invalid or the payer did not consent.
	KindAuthorization Kind = "Authorization"
	// KindDecoding: stored bytes are corrupt or truncated.
	KindDecoding Kind = "Decoding"
	// KindNotFound: nothing is stored at the requested address.
	KindNotFound Kind = "NotFound"
	// KindInvalidInput: malformed caller input that is not a size violation.
	KindInvalidInput Kind = "InvalidInput"
	// KindStorage: the storage substrate failed.
	KindStorage Kind = "Storage"
	KindInternal Kind = "Internal"
)

// Error is the structured error type.
//
// RuleID is a stable identifier (e.g. CERT-ENC-001) naming the violated rule.
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New returns a structured error without a cause.
func New(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

// Wrap returns a structured error carrying cause. A nil cause yields New.
func Wrap(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return New(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
