package credentials

import (
	"errors"
	"fmt"
)

// ErrorKind is the category of a credential error.
type ErrorKind int

const (
	// KindInvalidData means a mandatory field is empty, or a stored value
	// did not fit its bound.
	KindInvalidData ErrorKind = iota
	// KindTooLong means a value exceeds its key's bound.
	KindTooLong
	// KindStorage means the configuration store failed.
	KindStorage
	// KindPlaceholder means a compiled default still holds its sentinel.
	KindPlaceholder
)

// String returns a human-readable name for the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidData:
		return "invalid data"
	case KindTooLong:
		return "too long"
	case KindStorage:
		return "storage error"
	case KindPlaceholder:
		return "placeholder value"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// CredentialError reports why a credential set was not usable.
type CredentialError struct {
	Kind   ErrorKind
	Domain Domain
	Field  string // key name, empty when the whole set is at fault
	Err    error  // underlying store error, if any
}

// Error implements the error interface
func (e *CredentialError) Error() string {
	msg := fmt.Sprintf("%s credentials: %s", e.Domain, e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(" (%s)", e.Field)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *CredentialError) Unwrap() error {
	return e.Err
}

func isKind(err error, kind ErrorKind) bool {
	var credErr *CredentialError
	return errors.As(err, &credErr) && credErr.Kind == kind
}

// IsInvalidData reports whether err is a KindInvalidData credential error.
func IsInvalidData(err error) bool { return isKind(err, KindInvalidData) }

// IsTooLong reports whether err is a KindTooLong credential error.
func IsTooLong(err error) bool { return isKind(err, KindTooLong) }

// IsStorage reports whether err is a KindStorage credential error.
func IsStorage(err error) bool { return isKind(err, KindStorage) }
