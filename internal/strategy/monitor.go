package strategy

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/metrics"
	"github.com/avollmer/openrange/internal/models"
)

// ErrEntryWindowExpired means the monitor reached its deadline without
// the credit ever clearing the floor; the day ends with no position.
var ErrEntryWindowExpired = errors.New("entry window expired before credit threshold was met")

// Monitor polls the credit evaluator at a fixed cadence until the net
// credit clears the floor or the entry deadline passes. The strikes and
// entry price are frozen before the loop starts; the reading that meets
// the threshold is the reading that prices the order, with no re-quote
// in between.
type Monitor struct {
	Clock    clock.Clock
	Eval     *CreditEvaluator
	Interval time.Duration
	Logger   *log.Logger
}

// Run evaluates once per tick. Unquotable legs and transport errors are
// tolerated and retried on the next tick; only the deadline or a
// context cancellation ends the loop without a credit.
func (m *Monitor) Run(ctx context.Context, expiry time.Time, trig *models.Trigger, deadline clock.HM) (models.SpreadCredit, error) {
	loc := m.Clock.Location()
	deadlineAt := clock.At(loc, m.Clock.Now(), deadline)

	for {
		if err := ctx.Err(); err != nil {
			return models.SpreadCredit{}, err
		}
		if !m.Clock.Now().Before(deadlineAt) {
			return models.SpreadCredit{}, ErrEntryWindowExpired
		}

		credit, err := m.Eval.Evaluate(ctx, expiry, trig.TradeType, trig.KShort, trig.KLong)
		switch {
		case errors.Is(err, ErrUnquotable):
			metrics.IncQuotePoll("unquotable")
			m.Logger.Printf("monitor: legs unquotable, retrying in %s", m.Interval)
		case err != nil:
			metrics.IncQuotePoll("error")
			m.Logger.Printf("monitor: quote fetch failed: %v; retrying in %s", err, m.Interval)
		case m.Eval.Meets(credit):
			metrics.IncQuotePoll("met")
			metrics.SetNetCredit(credit.Net)
			m.Logger.Printf("monitor: net credit %.2f >= %.2f, submitting at gross %.2f",
				credit.Net, m.Eval.MinNetCredit(), credit.Gross)
			return credit, nil
		default:
			metrics.IncQuotePoll("unmet")
			metrics.SetNetCredit(credit.Net)
			m.Logger.Printf("monitor: net credit %.2f below %.2f, retrying in %s",
				credit.Net, m.Eval.MinNetCredit(), m.Interval)
		}

		if err := m.Clock.Sleep(ctx, m.Interval); err != nil {
			return models.SpreadCredit{}, err
		}
	}
}
