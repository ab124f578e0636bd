package pacing

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func mustIntRange(t *testing.T, low, high int) IntRange {
	t.Helper()
	r, err := NewIntRange(low, high)
	if err != nil {
		t.Fatalf("NewIntRange(%d, %d) error = %v", low, high, err)
	}
	return r
}

func mustRange(t *testing.T, low, high float64) Range {
	t.Helper()
	r, err := NewRange(low, high)
	if err != nil {
		t.Fatalf("NewRange(%v, %v) error = %v", low, high, err)
	}
	return r
}

func TestNewRangeRejectsInvalidBounds(t *testing.T) {
	if _, err := NewRange(-1, 5); err == nil {
		t.Fatal("negative low accepted")
	}
	if _, err := NewRange(8, 3); err == nil {
		t.Fatal("inverted bounds accepted")
	}
	if _, err := NewIntRange(-2, 0); err == nil {
		t.Fatal("negative int low accepted")
	}
	if _, err := NewIntRange(10, 1); err == nil {
		t.Fatal("inverted int bounds accepted")
	}
}

func TestBatchLimitStaysInBounds(t *testing.T) {
	cfg := PolicyConfig{
		BatchSize:        mustIntRange(t, 40, 80),
		MicroPauseEveryN: mustIntRange(t, 10, 25),
	}
	p := NewPolicy(cfg, WithRand(rand.New(rand.NewSource(1))))

	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		n := p.BatchLimit()
		if n < 40 || n > 80 {
			t.Fatalf("BatchLimit() = %d, want within [40, 80]", n)
		}
		seen[n] = true
	}
	// Both ends must be reachable: the interval is inclusive.
	if !seen[40] || !seen[80] {
		t.Fatalf("bounds never drawn over 1000 samples: saw 40=%v 80=%v", seen[40], seen[80])
	}

	for i := 0; i < 1000; i++ {
		if n := p.MicroEvery(); n < 10 || n > 25 {
			t.Fatalf("MicroEvery() = %d, want within [10, 25]", n)
		}
	}
}

func TestDegenerateRangeIsConstant(t *testing.T) {
	cfg := PolicyConfig{BatchSize: mustIntRange(t, 50, 50)}
	p := NewPolicy(cfg, WithRand(rand.New(rand.NewSource(7))))
	for i := 0; i < 100; i++ {
		if n := p.BatchLimit(); n != 50 {
			t.Fatalf("BatchLimit() = %d, want 50 for a degenerate range", n)
		}
	}
}

func TestPauseDurationsStayInBounds(t *testing.T) {
	cfg := PolicyConfig{
		PauseBetweenBatches: mustRange(t, 3, 7),
		PauseBetweenChats:   mustRange(t, 20, 40),
		MicroPauseEveryN:    mustIntRange(t, 1, 1),
		MicroPauseMS:        mustIntRange(t, 150, 400),
	}

	var slept []time.Duration
	p := NewPolicy(cfg,
		WithRand(rand.New(rand.NewSource(42))),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)

	ctx := context.Background()
	for i := 0; i < 200; i++ {
		if err := p.PauseBetweenBatches(ctx); err != nil {
			t.Fatalf("PauseBetweenBatches() error = %v", err)
		}
	}
	for _, d := range slept {
		if d < 3*time.Second || d > 7*time.Second {
			t.Fatalf("batch pause %v outside [3s, 7s]", d)
		}
	}

	slept = nil
	for i := 0; i < 200; i++ {
		if err := p.PauseBetweenChats(ctx); err != nil {
			t.Fatalf("PauseBetweenChats() error = %v", err)
		}
	}
	for _, d := range slept {
		if d < 20*time.Second || d > 40*time.Second {
			t.Fatalf("chat pause %v outside [20s, 40s]", d)
		}
	}

	slept = nil
	for i := 0; i < 200; i++ {
		if err := p.MicroPause(ctx); err != nil {
			t.Fatalf("MicroPause() error = %v", err)
		}
	}
	for _, d := range slept {
		if d < 150*time.Millisecond || d > 400*time.Millisecond {
			t.Fatalf("micro pause %v outside [150ms, 400ms]", d)
		}
	}
}

func TestPauseHonorsCancellation(t *testing.T) {
	cfg := PolicyConfig{PauseBetweenChats: mustRange(t, 30, 30)}
	p := NewPolicy(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.PauseBetweenChats(ctx); err == nil {
		t.Fatal("expected a context error from a cancelled pause")
	}
}
