package strategy

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/models"
	"github.com/avollmer/openrange/internal/util"
)

// Branch is the setup decision taken at 10:00 from the OR polarity.
type Branch int

const (
	// BranchNone means ORC equals ORO exactly; the day ends flat.
	BranchNone Branch = iota
	// BranchStepA is the bullish PUT-spread setup, entered immediately.
	BranchStepA
	// BranchStepB is the bearish setup, armed on an ORL breakout.
	BranchStepB
)

// DecideBranch maps OR polarity onto the day's branch. The branches are
// mutually exclusive and irreversible: Step-A eligibility precludes
// Step B for the rest of the day even if no order fills.
func DecideBranch(or *models.OpeningRange) Branch {
	switch or.Polarity() {
	case 1:
		return BranchStepA
	case -1:
		return BranchStepB
	default:
		return BranchNone
	}
}

// BullishTrigger freezes the Step-A entry: SPX_entry is the OR close,
// strikes are derived once and never recomputed during monitoring.
func BullishTrigger(or *models.OpeningRange, width float64, now time.Time) (*models.Trigger, error) {
	kShort, kLong, err := StrikesFor(models.TradePut, or.Close, width)
	if err != nil {
		return nil, err
	}
	return &models.Trigger{
		Setup:       models.SetupBullishOR,
		TradeType:   models.TradePut,
		SPXEntry:    or.Close,
		KShort:      kShort,
		KLong:       kLong,
		TriggerTime: now,
	}, nil
}

// BreakoutScanner polls the post-OR 30-minute bars for a close strictly
// below the OR low.
type BreakoutScanner struct {
	Clock      clock.Clock
	Market     broker.MarketData
	Underlying string
	Width      float64
	Logger     *log.Logger
}

// windowStarts are the bar starts Step B evaluates, each checked at the
// instant the bar closes (start + 30 minutes).
var windowStarts = []clock.HM{{Hour: 10, Minute: 0}, {Hour: 10, Minute: 30}, {Hour: 11, Minute: 0}, {Hour: 11, Minute: 30}}

// Scan walks the four windows in order. For each it waits for the bar
// to close, fetches the window, and selects the candle whose bar start
// matches exactly; the adapter may return bars from earlier in the
// session, so positional selection would read the wrong bar. A close
// strictly below ORL declares the breakout and freezes the CALL-spread
// entry at that close. Equality with ORL does not trigger. Returns
// (nil, nil) when no bar breaks out by the final window.
func (b *BreakoutScanner) Scan(ctx context.Context, date time.Time, or *models.OpeningRange) (*models.Trigger, error) {
	loc := b.Clock.Location()
	orlCents := util.Cents(or.Low)

	for _, start := range windowStarts {
		closeAt := start.Add(30)
		if err := b.Clock.WaitUntil(ctx, closeAt, fmt.Sprintf("%s bar close", start)); err != nil {
			return nil, err
		}

		winStart := clock.At(loc, date, start)
		winEnd := clock.At(loc, date, closeAt)
		candles, err := b.Market.GetCandles(ctx, b.Underlying, winStart, winEnd)
		if err != nil {
			b.Logger.Printf("step B: fetching %s bar failed: %v; moving to next window", start, err)
			continue
		}

		bar, ok := candleAt(candles, winStart)
		if !ok {
			b.Logger.Printf("step B: no candle with bar start %s (%d returned); moving to next window", start, len(candles))
			continue
		}

		if util.Cents(bar.Close) >= orlCents {
			b.Logger.Printf("step B: %s bar closed %.2f, at or above ORL %.2f; no breakout", start, bar.Close, or.Low)
			continue
		}

		kShort, kLong, err := StrikesFor(models.TradeCall, bar.Close, b.Width)
		if err != nil {
			return nil, err
		}
		b.Logger.Printf("step B: breakout on %s bar, close %.2f < ORL %.2f; CALL spread %g/%g",
			start, bar.Close, or.Low, kShort, kLong)
		return &models.Trigger{
			Setup:       models.SetupBearishORLBreakout,
			TradeType:   models.TradeCall,
			SPXEntry:    bar.Close,
			KShort:      kShort,
			KLong:       kLong,
			TriggerTime: b.Clock.Now(),
		}, nil
	}

	return nil, nil
}
