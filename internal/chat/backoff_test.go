package chat

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for k, w := range want {
		if got := b.Delay(k); got != w {
			t.Errorf("Delay(%d) = %v, want %v", k, got, w)
		}
	}
}

func TestBackoffMonotonic(t *testing.T) {
	b := &Backoff{MaxAttempts: 100, Base: 3 * time.Millisecond, Max: time.Second}
	prev := time.Duration(0)
	for k := 0; k < 100; k++ {
		d := b.Delay(k)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", k, d, prev)
		}
		if d > b.Max {
			t.Fatalf("delay %v exceeds cap at attempt %d", d, k)
		}
		prev = d
	}
}

func TestBackoffExhausted(t *testing.T) {
	b := DefaultBackoff()
	for attempts := 0; attempts < 5; attempts++ {
		if b.Exhausted(attempts) {
			t.Errorf("should not be exhausted after %d attempts", attempts)
		}
	}
	if !b.Exhausted(5) {
		t.Error("should be exhausted after 5 attempts")
	}
}
