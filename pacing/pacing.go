// Package pacing supplies the randomized delays and batch sizes that keep the
// worker's request cadence below the platform's abuse thresholds. Every value
// is redrawn fresh on each use so the cadence never settles into a detectable
// fixed rhythm.
package pacing

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Range is a validated [Low, High] interval in seconds.
type Range struct {
	Low  float64
	High float64
}

func NewRange(low, high float64) (Range, error) {
	if low < 0 || high < 0 {
		return Range{}, fmt.Errorf("range bounds must be non-negative: [%v, %v]", low, high)
	}
	if low > high {
		return Range{}, fmt.Errorf("range low must not exceed high: [%v, %v]", low, high)
	}
	return Range{Low: low, High: high}, nil
}

// IntRange is a validated [Low, High] integer interval, inclusive on both
// ends.
type IntRange struct {
	Low  int
	High int
}

func NewIntRange(low, high int) (IntRange, error) {
	if low < 0 || high < 0 {
		return IntRange{}, fmt.Errorf("range bounds must be non-negative: [%d, %d]", low, high)
	}
	if low > high {
		return IntRange{}, fmt.Errorf("range low must not exceed high: [%d, %d]", low, high)
	}
	return IntRange{Low: low, High: high}, nil
}

type PolicyConfig struct {
	BatchSize           IntRange
	PauseBetweenBatches Range
	PauseBetweenChats   Range
	MicroPauseEveryN    IntRange
	MicroPauseMS        IntRange
}

type Option func(*Policy)

// WithRand injects a deterministic source for tests.
func WithRand(r *rand.Rand) Option {
	return func(p *Policy) { p.rand = r }
}

// WithSleep replaces the context-aware sleep, so tests run without waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleep = sleep }
}

type Policy struct {
	cfg   PolicyConfig
	rand  *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPolicy(cfg PolicyConfig, opts ...Option) *Policy {
	p := &Policy{
		cfg:   cfg,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BatchLimit draws a fresh history-page size.
func (p *Policy) BatchLimit() int {
	return p.drawInt(p.cfg.BatchSize)
}

// MicroEvery draws the per-batch "pause every N messages" stride. Zero means
// no micro-pauses for this batch.
func (p *Policy) MicroEvery() int {
	return p.drawInt(p.cfg.MicroPauseEveryN)
}

func (p *Policy) PauseBetweenBatches(ctx context.Context) error {
	return p.sleep(ctx, p.drawSeconds(p.cfg.PauseBetweenBatches))
}

func (p *Policy) PauseBetweenChats(ctx context.Context) error {
	return p.sleep(ctx, p.drawSeconds(p.cfg.PauseBetweenChats))
}

// MicroPause sleeps for a freshly drawn millisecond jitter.
func (p *Policy) MicroPause(ctx context.Context) error {
	ms := p.drawInt(p.cfg.MicroPauseMS)
	return p.sleep(ctx, time.Duration(ms)*time.Millisecond)
}

func (p *Policy) drawInt(r IntRange) int {
	if r.High <= r.Low {
		return r.Low
	}
	return r.Low + p.rand.Intn(r.High-r.Low+1)
}

func (p *Policy) drawSeconds(r Range) time.Duration {
	span := r.High - r.Low
	sec := r.Low
	if span > 0 {
		sec += p.rand.Float64() * span
	}
	return time.Duration(sec * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
