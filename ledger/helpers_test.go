package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// fakeClock is a manually advanced clock for deterministic timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedDraw returns the given values in order, cycling when exhausted, and
// advances the seed by one on every call.
func scriptedDraw(values ...uint64) DrawFunc {
	var mu sync.Mutex
	i := 0
	return func(seed uint64) (uint64, uint64) {
		mu.Lock()
		defer mu.Unlock()
		v := values[i%len(values)]
		i++
		return seed + 1, v
	}
}

// alwaysWin and neverWin pin the outcome of every draw.
var (
	alwaysWin = scriptedDraw(0)
	neverWin  = scriptedDraw(99)
)

func testConfig(prize, balance string, cooldown time.Duration, percent uint8) RewardConfig {
	return RewardConfig{
		PrizeAmount:           decimal.RequireFromString(prize),
		InitialBalance:        decimal.RequireFromString(balance),
		CooldownPeriod:        cooldown,
		WinProbabilityPercent: percent,
		Seed:                  42,
	}
}

func newTestEngine(t *testing.T, cfg RewardConfig, opts ...Option) *Engine {
	t.Helper()
	e, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func submitN(t *testing.T, e *Engine, n int) []Receipt {
	t.Helper()
	receipts := make([]Receipt, 0, n)
	for i := 0; i < n; i++ {
		r, err := e.Submit(context.Background(), fmt.Sprintf("0x%040d", i%3), fmt.Sprintf("greeting %d", i+1))
		if err != nil {
			t.Fatalf("unexpected error submitting greeting %d: %v", i+1, err)
		}
		receipts = append(receipts, r)
	}
	return receipts
}

func countEvents(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
