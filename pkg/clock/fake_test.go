package clock_test

import (
	"testing"
	"time"

	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
)

func TestFakeAfterAdvancesAndRecords(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.Fake(start)

	fired := <-clk.After(2 * time.Second)
	if want := start.Add(2 * time.Second); !fired.Equal(want) {
		t.Fatalf("fired at %v, want %v", fired, want)
	}

	<-clk.After(4 * time.Second)
	if got := clk.Now().Sub(start); got != 6*time.Second {
		t.Fatalf("elapsed %v, want 6s", got)
	}

	waits := clk.Waits()
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 4*time.Second {
		t.Fatalf("unexpected waits: %v", waits)
	}
}

func TestFakeAdvanceDoesNotRecord(t *testing.T) {
	start := time.Unix(0, 0)
	clk := clock.Fake(start)
	clk.Advance(time.Minute)

	if got := clk.Now(); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("now = %v", got)
	}
	if len(clk.Waits()) != 0 {
		t.Fatal("Advance should not record a wait")
	}
}
