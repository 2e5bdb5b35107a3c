package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/models"
)

// fakeMarket scripts the MarketData interface. Candle queries return
// every scripted bar in [start, end), mirroring an adapter that may
// hand back more of the session than the caller asked for when
// returnWholeSession is set.
type fakeMarket struct {
	candles            []models.Candle
	candleErr          error
	returnWholeSession bool

	// quoteScript is consumed one entry per GetOptionQuotes call; the
	// last entry repeats once the script runs out.
	quoteScript []map[string]models.QuoteSnapshot
	quoteErrs   []error
	quoteCalls  int

	indexClose    float64
	indexCloseErr error
}

func (f *fakeMarket) GetCandles(_ context.Context, _ string, start, end time.Time) ([]models.Candle, error) {
	if f.candleErr != nil {
		return nil, f.candleErr
	}
	var out []models.Candle
	for _, c := range f.candles {
		if f.returnWholeSession {
			if c.BarStart.Before(end) {
				out = append(out, c)
			}
			continue
		}
		if !c.BarStart.Before(start) && c.BarStart.Before(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeMarket) GetOptionQuotes(_ context.Context, _ []string) (map[string]models.QuoteSnapshot, error) {
	i := f.quoteCalls
	f.quoteCalls++
	if i < len(f.quoteErrs) && f.quoteErrs[i] != nil {
		return nil, f.quoteErrs[i]
	}
	if len(f.quoteScript) == 0 {
		return nil, errors.New("no quotes scripted")
	}
	if i >= len(f.quoteScript) {
		i = len(f.quoteScript) - 1
	}
	return f.quoteScript[i], nil
}

func (f *fakeMarket) GetIndexClose(_ context.Context, _ string, _ time.Time) (float64, error) {
	if f.indexCloseErr != nil {
		return 0, f.indexCloseErr
	}
	return f.indexClose, nil
}

// fakeClock runs the day on virtual time: waits jump straight to their
// target and sleeps advance the clock by the requested duration.
type fakeClock struct {
	now time.Time
	loc *time.Location
}

func newFakeClock(date time.Time, hm clock.HM, loc *time.Location) *fakeClock {
	return &fakeClock{now: clock.At(loc, date, hm), loc: loc}
}

func (f *fakeClock) Now() time.Time           { return f.now }
func (f *fakeClock) Location() *time.Location { return f.loc }

func (f *fakeClock) WaitUntil(ctx context.Context, hm clock.HM, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := clock.At(f.loc, f.now, hm)
	if f.now.Before(target) {
		f.now = target
	}
	return nil
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.now = f.now.Add(d)
	return nil
}

// bar builds a 30-minute candle starting at hm on date in loc.
func bar(loc *time.Location, date time.Time, hm clock.HM, o, h, l, c float64) models.Candle {
	return models.Candle{
		BarStart: clock.At(loc, date, hm),
		Open:     o,
		High:     h,
		Low:      l,
		Close:    c,
	}
}
