package ota

import (
	"errors"
	"fmt"
)

var (
	// ErrStateRegression is returned by SetState when asked to move a Valid
	// slot back to New or PendingVerify.
	ErrStateRegression = errors.New("ota: refusing to revert a valid slot")

	// ErrNoSlot is returned when an operation needs a selected slot and the
	// otadata partition holds none.
	ErrNoSlot = errors.New("ota: no slot selected")

	// ErrInvalidSlot is returned for a slot value outside SlotA/SlotB.
	ErrInvalidSlot = errors.New("ota: invalid slot")

	// ErrImageTooLarge is returned when an update would overflow its slot.
	ErrImageTooLarge = errors.New("ota: image larger than slot")
)

// PartitionError reports a partition the manager needs that the table does
// not have. Each missing partition gets its own error naming it.
type PartitionError struct {
	Name string
	Err  error
}

// Error implements the error interface
func (e *PartitionError) Error() string {
	return fmt.Sprintf("ota: %s partition unavailable: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *PartitionError) Unwrap() error {
	return e.Err
}

// Error reports a failed slot or state operation.
type Error struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("ota %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}
