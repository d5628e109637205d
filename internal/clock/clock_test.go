package clock

import (
	"testing"
	"time"
)

func TestFakeClock_AfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if want := start.Add(5 * time.Second); !got.Equal(want) {
			t.Errorf("fired at %v, want %v", got, want)
		}
	default:
		t.Fatal("waiter did not fire at its deadline")
	}

	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeClock_NonPositiveDuration(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestFakeClock_BlockUntilAndNextDeadline(t *testing.T) {
	c := Fake(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		<-c.After(500 * time.Millisecond)
		close(done)
	}()

	c.BlockUntil(1)
	d, ok := c.NextDeadline()
	if !ok || d != 500*time.Millisecond {
		t.Fatalf("NextDeadline() = %v, %v; want 500ms, true", d, ok)
	}

	c.Advance(500 * time.Millisecond)
	<-done
}
