package kvstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key has never been written.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrUnformatted is returned by Mount when no page carries a header.
	ErrUnformatted = errors.New("kvstore: store is not formatted")

	// ErrNotMounted is returned by operations on a store that has not been
	// mounted or formatted.
	ErrNotMounted = errors.New("kvstore: store is not mounted")

	// ErrStoreFull is returned when live data plus the new record cannot fit
	// while keeping one page in reserve.
	ErrStoreFull = errors.New("kvstore: store is full")

	// ErrKeyTooLong and ErrValueTooLong reject records over the size bounds.
	ErrKeyTooLong   = errors.New("kvstore: key too long")
	ErrValueTooLong = errors.New("kvstore: value too long")

	// ErrEmptyKey rejects the empty key.
	ErrEmptyKey = errors.New("kvstore: empty key")

	// ErrTransactionDone is returned when a transaction is used after
	// Commit or Close, or when a write transaction is given a second key.
	ErrTransactionDone = errors.New("kvstore: transaction already used")
)

// Op identifies the store operation that failed.
type Op int

const (
	// OpRead is a read transaction.
	OpRead Op = iota
	// OpWrite is the record body write.
	OpWrite
	// OpCommit is the commit marker write, or page maintenance done on
	// behalf of a commit.
	OpCommit
)

// String returns a human-readable name for the operation
func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpCommit:
		return "commit"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// StoreError reports a failed read, write or commit of one key. It is never
// fatal: the previously committed value stays the only observable one.
type StoreError struct {
	Op  Op
	Key string
	Err error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	return fmt.Sprintf("kvstore %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *StoreError) Unwrap() error {
	return e.Err
}

// CorruptPageError is returned by Mount when a page header is present but
// does not verify.
type CorruptPageError struct {
	Page   int
	Reason string
}

// Error implements the error interface
func (e *CorruptPageError) Error() string {
	return fmt.Sprintf("kvstore: page %d corrupt: %s", e.Page, e.Reason)
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCorrupt reports whether err is a page corruption error.
func IsCorrupt(err error) bool {
	var corrupt *CorruptPageError
	return errors.As(err, &corrupt)
}

// NeedsFormat reports whether a Mount error means the store should be
// formatted before use.
func NeedsFormat(err error) bool {
	return errors.Is(err, ErrUnformatted) || IsCorrupt(err)
}
