// Package clock provides exchange-time scheduling for the trading day.
// All time-of-day decisions run in the exchange zone, never UTC.
package clock

import (
	"context"
	"fmt"
	"log"
	"time"
)

// HM is a time of day (hour and minute) in the exchange zone.
type HM struct {
	Hour   int
	Minute int
}

// ParseHM parses "HH:MM".
func ParseHM(s string) (HM, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return HM{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return HM{}, fmt.Errorf("time of day %q out of range", s)
	}
	return HM{Hour: h, Minute: m}, nil
}

func (h HM) String() string {
	return fmt.Sprintf("%02d:%02d", h.Hour, h.Minute)
}

// Add returns the time of day m minutes later. It does not wrap past
// midnight; the trading day never needs that.
func (h HM) Add(minutes int) HM {
	total := h.Hour*60 + h.Minute + minutes
	return HM{Hour: total / 60, Minute: total % 60}
}

// Before reports whether h is earlier in the day than other.
func (h HM) Before(other HM) bool {
	return h.Hour*60+h.Minute < other.Hour*60+other.Minute
}

// Clock abstracts wall-clock access so tests and the simulation harness
// can drive the day deterministically.
type Clock interface {
	Now() time.Time
	// WaitUntil blocks until the exchange wall clock reaches hm on the
	// current date. Returns immediately when already past. Honors
	// context cancellation.
	WaitUntil(ctx context.Context, hm HM, label string) error
	// Sleep blocks for d or until the context is done.
	Sleep(ctx context.Context, d time.Duration) error
	Location() *time.Location
}

// Real is the wall-clock implementation.
type Real struct {
	loc    *time.Location
	logger *log.Logger
}

// Verify interface compliance at compile time.
var _ Clock = (*Real)(nil)

// NewReal builds a clock in the named zone, falling back to a fixed ET
// offset when zone data is unavailable.
func NewReal(tz string, logger *log.Logger) *Real {
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.FixedZone("ET", -5*3600)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Real{loc: loc, logger: logger}
}

// Now returns the current time in the exchange zone.
func (c *Real) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the exchange zone.
func (c *Real) Location() *time.Location {
	return c.loc
}

// WaitUntil blocks until hm today, logging the wait so operators can see
// what the process is parked on.
func (c *Real) WaitUntil(ctx context.Context, hm HM, label string) error {
	now := c.Now()
	target := At(c.loc, now, hm)
	if !now.Before(target) {
		return nil
	}

	d := target.Sub(now)
	c.logger.Printf("waiting until %s ET for %s (%s)", hm, label, d.Round(time.Second))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait for %s canceled: %w", label, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Sleep blocks for d or until ctx is done.
func (c *Real) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// At returns the instant for hm on date's calendar day in loc.
func At(loc *time.Location, date time.Time, hm HM) time.Time {
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), hm.Hour, hm.Minute, 0, 0, loc)
}

// IsTradingDay reports whether t falls on a weekday that is not listed
// in holidays (dates formatted YYYY-MM-DD).
func IsTradingDay(t time.Time, holidays []string) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	day := t.Format("2006-01-02")
	for _, h := range holidays {
		if h == day {
			return false
		}
	}
	return true
}
