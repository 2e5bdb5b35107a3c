package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/config"
	"github.com/avollmer/openrange/internal/journal"
	"github.com/avollmer/openrange/internal/metrics"
	"github.com/avollmer/openrange/internal/models"
	"github.com/avollmer/openrange/internal/notify"
	"github.com/avollmer/openrange/internal/report"
	"github.com/avollmer/openrange/internal/retry"
	"github.com/avollmer/openrange/internal/strategy"
)

// Reconciler closes out the day: it waits for cash settlement, writes
// expiration P/L into the journal, and delivers the EOD report. It
// never places or cancels orders.
type Reconciler struct {
	cfg      *config.Config
	clk      clock.Clock
	broker   broker.Broker
	journal  journal.Interface
	notifier notify.Notifier
	logger   *log.Logger
}

func NewReconciler(cfg *config.Config, clk clock.Clock, b broker.Broker,
	j journal.Interface, n notify.Notifier, logger *log.Logger) *Reconciler {
	return &Reconciler{cfg: cfg, clk: clk, broker: b, journal: j, notifier: n, logger: logger}
}

// Run settles the day's position. The day must be parked in
// AWAIT_CLOSE; its state machine is driven to DONE here.
func (r *Reconciler) Run(ctx context.Context, day *Day) error {
	if err := r.clk.WaitUntil(ctx, r.cfg.MarketClose(), "cash settlement"); err != nil {
		return err
	}
	if err := day.transition(models.PhaseReconcile, "session_closed"); err != nil {
		return err
	}

	rec := day.Record()
	spxClose, err := retry.Do(ctx, r.logger, retry.DefaultConfig, "settlement close",
		func(ctx context.Context) (float64, error) {
			return r.broker.GetIndexClose(ctx, r.cfg.Broker.Underlying, day.date)
		})
	if err != nil {
		// The journal keeps the trade with settlement columns empty; a
		// later manual pass can fill them in.
		r.logger.Printf("reconciler: settlement close unavailable: %v", err)
		rec.MarkSettlementSkipped()
		if err := r.journal.UpsertTrade(rec); err != nil {
			return fmt.Errorf("journaling skipped settlement: %w", err)
		}
		metrics.IncSettlement("skipped")
		if err := day.transition(models.PhaseDone, "settlement_skipped"); err != nil {
			return err
		}
		return r.deliver(ctx, day)
	}

	// Equity-after is informational; a failed read must not block the
	// settlement write.
	equityAfter := 0.0
	if eq, eqErr := r.broker.GetAccountEquity(ctx); eqErr == nil {
		equityAfter = eq
		metrics.SetEquity(eq)
	} else {
		r.logger.Printf("reconciler: post-settlement equity unavailable: %v", eqErr)
	}

	settlement := strategy.Settle(rec, spxClose, r.cfg.Strategy.SpreadWidth, equityAfter)
	rec.ApplySettlement(settlement)
	if err := r.journal.UpsertTrade(rec); err != nil {
		return fmt.Errorf("journaling settlement: %w", err)
	}
	metrics.IncSettlement(settlementOutcome(settlement.TotalPnL))
	r.logger.Printf("reconciler: SPX close %.2f, settlement value %.2f, total P/L %.2f",
		spxClose, settlement.SettlementValue, settlement.TotalPnL)

	if err := day.transition(models.PhaseDone, "settlement_recorded"); err != nil {
		return err
	}
	return r.deliver(ctx, day)
}

// ReportNoTrade delivers the EOD report for a day that ended without a
// position. Nothing settles, but the record of why still goes out.
func (r *Reconciler) ReportNoTrade(ctx context.Context, day *Day) error {
	if err := r.clk.WaitUntil(ctx, r.cfg.MarketClose(), "end of session"); err != nil {
		return err
	}
	return r.deliver(ctx, day)
}

// deliver builds the report, persists it next to the journal, and
// emails it. Delivery failure is logged, not returned: the report file
// already exists by then.
func (r *Reconciler) deliver(ctx context.Context, day *Day) error {
	in := report.Input{
		Date:          day.date,
		GeneratedAt:   r.clk.Now(),
		OpeningRange:  day.OpeningRange(),
		Record:        day.Record(),
		NoTradeReason: day.NoTradeReason(),
	}
	if eq, err := r.broker.GetAccountEquity(ctx); err == nil {
		in.Equity = eq
	}

	body := report.Build(in)
	path, err := r.journal.PersistReport(report.Filename(day.date), []byte(body))
	if err != nil {
		return fmt.Errorf("persisting EOD report: %w", err)
	}
	r.logger.Printf("reconciler: EOD report written to %s", path)

	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := r.notifier.SendEOD(sendCtx, report.Subject(in), body); err != nil {
		r.logger.Printf("reconciler: EOD delivery failed: %v", err)
	}
	return nil
}

func settlementOutcome(totalPnL float64) string {
	switch {
	case totalPnL > 0:
		return "win"
	case totalPnL < 0:
		return "loss"
	default:
		return "scratch"
	}
}
