package indicator

import "context"

// Signal carries the most recent value from one goroutine to another. A
// new value replaces one the receiver has not taken yet, so the sender
// never blocks and the receiver always sees the latest state.
type Signal[T any] struct {
	ch chan T
}

// NewSignal returns an empty signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{ch: make(chan T, 1)}
}

// Send stores v, discarding any value not yet received.
func (s *Signal[T]) Send(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Wait blocks until a value is available or ctx is done.
func (s *Signal[T]) Wait(ctx context.Context) (T, error) {
	select {
	case v := <-s.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
