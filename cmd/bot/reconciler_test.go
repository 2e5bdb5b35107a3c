package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avollmer/openrange/internal/config"
	"github.com/avollmer/openrange/internal/journal"
	"github.com/avollmer/openrange/internal/mock"
	"github.com/avollmer/openrange/internal/models"
)

type captureNotifier struct {
	subject string
	body    string
	sends   int
	err     error
}

func (c *captureNotifier) SendEOD(_ context.Context, subject, body string) error {
	c.sends++
	c.subject = subject
	c.body = body
	return c.err
}

// runBullishDay drives a day to AWAIT_CLOSE with a filled 5435/5425 PUT
// spread at net 4.60, qty 5.
func runBullishDay(t *testing.T, cfg *config.Config, b *mock.Broker) (*Day, *mock.Clock, *journal.Mock) {
	t.Helper()
	shortSym, longSym := putSyms()
	b.Candles = []models.Candle{
		mock.Bar(etZone, tradeDay, hmOpen, 5430.00, 5437.50, 5428.00, 5433.70),
	}
	b.QuoteScript = []map[string]models.QuoteSnapshot{
		mock.SpreadQuotes(shortSym, longSym, 10.00, 10.40, 5.40, 5.60),
	}
	if b.Equity == 0 {
		b.Equity = 100000
	}

	day, clk, j := newTestDay(t, cfg, b)
	require.NoError(t, day.Run(context.Background()))
	require.Equal(t, models.PhaseAwaitClose, day.Phase())
	return day, clk, j
}

func TestReconcilerSettlesInTheMoneyPut(t *testing.T) {
	cfg := testConfig(t)
	b := &mock.Broker{IndexClose: 5430.20}
	day, clk, j := runBullishDay(t, cfg, b)

	n := &captureNotifier{}
	r := NewReconciler(cfg, clk, b, j, n, quietLogger())
	require.NoError(t, r.Run(context.Background(), day))

	assert.Equal(t, models.PhaseDone, day.Phase())
	rec := day.Record()
	require.True(t, rec.Settled())
	// Settlement value clamp(5435 - 5430.20, 0, 10) = 4.80; per-spread
	// P/L (4.60 - 4.80) * 100 = -20; qty 5 makes -100 total.
	assert.InDelta(t, 5430.20, rec.SPXClose, 1e-9)
	assert.InDelta(t, 4.80, rec.SettlementValue, 1e-9)
	assert.InDelta(t, -20.0, rec.PnLPerSpread, 1e-9)
	assert.InDelta(t, -100.0, rec.TotalPnL, 1e-9)

	// Settlement lands in the journal and the report goes out.
	stored, ok, err := j.TradeByDate("2026-08-24")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Settled())
	assert.Contains(t, j.Reports, "eod_report_2026-08-24.txt")
	assert.Equal(t, 1, n.sends)
	assert.Contains(t, n.subject, "P/L $-100.00")
	assert.Contains(t, n.body, "Total P/L:                $-100.00")
}

func TestReconcilerExpiresWorthlessPut(t *testing.T) {
	cfg := testConfig(t)
	// Close above the short strike: both legs expire worthless and the
	// full net credit is kept.
	b := &mock.Broker{IndexClose: 5444.00}
	day, clk, j := runBullishDay(t, cfg, b)

	n := &captureNotifier{}
	r := NewReconciler(cfg, clk, b, j, n, quietLogger())
	require.NoError(t, r.Run(context.Background(), day))

	rec := day.Record()
	assert.InDelta(t, 0.0, rec.SettlementValue, 1e-9)
	assert.InDelta(t, 460.0, rec.PnLPerSpread, 1e-9)
	assert.InDelta(t, 2300.0, rec.TotalPnL, 1e-9)
}

func TestReconcilerSkipsSettlementWhenCloseUnavailable(t *testing.T) {
	cfg := testConfig(t)
	b := &mock.Broker{IndexCloseErr: errors.New("quote not found")}
	day, clk, j := runBullishDay(t, cfg, b)

	n := &captureNotifier{}
	r := NewReconciler(cfg, clk, b, j, n, quietLogger())
	require.NoError(t, r.Run(context.Background(), day))

	assert.Equal(t, models.PhaseDone, day.Phase())
	rec := day.Record()
	assert.False(t, rec.Settled())
	assert.Equal(t, models.StatusSettlementSkipped, rec.OrderStatus)

	stored, ok, err := j.TradeByDate("2026-08-24")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, stored.Settled())
	assert.Equal(t, models.StatusSettlementSkipped, stored.OrderStatus)
	assert.Equal(t, 1, n.sends, "the report still goes out")
	assert.Contains(t, n.body, "Settlement skipped")
}

func TestReconcilerReportsNoTradeDay(t *testing.T) {
	cfg := testConfig(t)
	b := &mock.Broker{
		Equity: 100000,
		Candles: []models.Candle{
			mock.Bar(etZone, tradeDay, hmOpen, 5430.00, 5434.00, 5428.00, 5430.00),
		},
	}
	day, clk, j := newTestDay(t, cfg, b)
	require.NoError(t, day.Run(context.Background()))
	require.Equal(t, models.PhaseNoTrade, day.Phase())

	n := &captureNotifier{}
	r := NewReconciler(cfg, clk, b, j, n, quietLogger())
	require.NoError(t, r.ReportNoTrade(context.Background(), day))

	assert.Contains(t, j.Reports, "eod_report_2026-08-24.txt")
	assert.Equal(t, 1, n.sends)
	assert.Contains(t, n.subject, "NO TRADE")
	assert.Contains(t, n.body, "opening range closed flat")
}

func TestReconcilerDeliveryFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	b := &mock.Broker{IndexClose: 5444.00}
	day, clk, j := runBullishDay(t, cfg, b)

	n := &captureNotifier{err: errors.New("smtp down")}
	r := NewReconciler(cfg, clk, b, j, n, quietLogger())
	require.NoError(t, r.Run(context.Background(), day))

	// The report file is the durable artifact; email is best effort.
	assert.Contains(t, j.Reports, "eod_report_2026-08-24.txt")
	assert.Equal(t, models.PhaseDone, day.Phase())
}
