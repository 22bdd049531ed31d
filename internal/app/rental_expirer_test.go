package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRentalExpirerSweep(t *testing.T) {
	sweeper := &MockSweeper{n: 3}
	re := NewRentalExpirer(nil, sweeper, time.Minute)
	if got := re.Sweep(context.Background()); got != 3 {
		t.Errorf("Sweep = %d, want 3", got)
	}

	sweeper.err = errors.New("db locked")
	if got := re.Sweep(context.Background()); got != 0 {
		t.Errorf("Sweep on error = %d, want 0", got)
	}
}

func TestRentalExpirerDefaultsInterval(t *testing.T) {
	re := NewRentalExpirer(nil, &MockSweeper{}, 0)
	if re.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", re.interval)
	}
}

func TestRentalExpirerRun(t *testing.T) {
	sweeper := &MockSweeper{}
	re := NewRentalExpirer(nil, sweeper, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		re.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.Calls() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d sweeps", sweeper.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
