package mock

import (
	"context"
	"sync"
	"time"

	"github.com/avollmer/openrange/internal/clock"
)

// Clock is a virtual clock: waits and sleeps advance it instantly, so
// a full trading day replays in milliseconds.
type Clock struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

var _ clock.Clock = (*Clock)(nil)

// NewClock starts the virtual clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t, loc: t.Location()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Location() *time.Location { return c.loc }

// WaitUntil jumps the clock forward to hm today. Already-past targets
// leave the clock unchanged, matching the real clock's behavior.
func (c *Clock) WaitUntil(ctx context.Context, hm clock.HM, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	target := clock.At(c.loc, c.now, hm)
	if c.now.Before(target) {
		c.now = target
	}
	return nil
}

// Sleep advances the clock by d without blocking.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

// Set forces the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
