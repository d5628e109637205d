package netsup

import (
	"errors"
	"fmt"
)

// ErrRadioStopped is returned by radios whose event wait ended because the
// radio itself went away.
var ErrRadioStopped = errors.New("radio stopped")

// Error wraps a failure of one network operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("network %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsInitError reports whether err came from constructing the radio or the
// IP stack, which the caller treats as fatal to forward progress.
func IsInitError(err error) bool {
	var netErr *Error
	if errors.As(err, &netErr) {
		return netErr.Op == "init radio" || netErr.Op == "init stack"
	}
	return false
}
