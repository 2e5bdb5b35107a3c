package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/models"
)

// ErrNoOpeningRange is fatal for the day: without the 09:30-10:00 bar
// no downstream decision is meaningful.
var ErrNoOpeningRange = errors.New("opening-range bar not available")

// CaptureOpeningRange reads the session's first 30-minute bar and
// publishes the immutable OpeningRange record. The adapter may return
// bars from earlier in the session, so the bar is selected by its exact
// start instant, never by position in the response.
func CaptureOpeningRange(ctx context.Context, market broker.MarketData, underlying string, date time.Time, loc *time.Location, open, orEnd clock.HM) (*models.OpeningRange, error) {
	start := clock.At(loc, date, open)
	end := clock.At(loc, date, orEnd)

	candles, err := market.GetCandles(ctx, underlying, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching opening-range candles: %w", err)
	}

	bar, ok := candleAt(candles, start)
	if !ok {
		return nil, fmt.Errorf("%w: no candle with bar start %s among %d returned",
			ErrNoOpeningRange, start.Format("15:04"), len(candles))
	}

	or := &models.OpeningRange{
		BarStart: bar.BarStart,
		Open:     bar.Open,
		High:     bar.High,
		Low:      bar.Low,
		Close:    bar.Close,
	}
	if err := or.Validate(); err != nil {
		return nil, err
	}
	return or, nil
}

// candleAt selects the candle whose bar start equals want exactly.
func candleAt(candles []models.Candle, want time.Time) (models.Candle, bool) {
	for _, c := range candles {
		if c.BarStart.Equal(want) {
			return c, true
		}
	}
	return models.Candle{}, false
}
