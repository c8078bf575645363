package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceAndSet(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewFake(start)

	if !c.Now().Equal(start) {
		t.Fatalf("expected %s, got %s", start, c.Now())
	}

	c.Advance(1500 * time.Millisecond)
	if got := c.Now().Sub(start); got != 1500*time.Millisecond {
		t.Fatalf("expected +1.5s, got %s", got)
	}

	c.Advance(-2 * time.Second)
	if !c.Now().Before(start) {
		t.Fatalf("expected clock before start after negative advance")
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected Set to reset the clock")
	}
}
