package connection

import (
	"testing"
	"time"
)

func TestBackoff_GrowthSequence(t *testing.T) {
	b := NewBackoff(1*time.Second, 8*time.Second, 2.0)

	// The delay used for attempt k is the value computed after attempt
	// k-1 failed.
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second, // capped
		8 * time.Second,
	}

	for i, w := range want {
		got := b.Next()
		if got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoff_NonDecreasing(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 3*time.Second, 1.7)

	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d := b.Next()
		if d < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", i+1, d, prev)
		}
		if d > 3*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds cap", i+1, d)
		}
		prev = d
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(1*time.Second, 30*time.Second, 2.0)

	b.Next()
	b.Next()
	b.Next()
	if b.Current() != 8*time.Second {
		t.Fatalf("Current = %v, want 8s", b.Current())
	}

	b.Reset()
	if b.Current() != 1*time.Second {
		t.Errorf("Current after Reset = %v, want 1s", b.Current())
	}
	if got := b.Next(); got != 1*time.Second {
		t.Errorf("Next after Reset = %v, want 1s", got)
	}
}
