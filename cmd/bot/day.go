package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/config"
	"github.com/avollmer/openrange/internal/journal"
	"github.com/avollmer/openrange/internal/metrics"
	"github.com/avollmer/openrange/internal/models"
	"github.com/avollmer/openrange/internal/orders"
	"github.com/avollmer/openrange/internal/retry"
	"github.com/avollmer/openrange/internal/strategy"
)

// allPhases feeds the day-phase gauge so every label exists from the
// first scrape.
var allPhases = []string{
	string(models.PhasePreOpen), string(models.PhaseOpenWait),
	string(models.PhaseORCapture), string(models.PhaseStepAEval),
	string(models.PhaseStepAMonitor), string(models.PhaseStepBScan),
	string(models.PhaseStepBMonitor), string(models.PhaseAwaitClose),
	string(models.PhaseReconcile), string(models.PhaseDone),
	string(models.PhaseNoTrade),
}

// Day drives one trading session from pre-open through order placement.
// It owns the state machine and the day's single trade record; the
// reconciler takes over once the day parks in AWAIT_CLOSE.
type Day struct {
	cfg       *config.Config
	clk       clock.Clock
	broker    broker.Broker
	journal   journal.Interface
	snapshots *models.SnapshotStore
	submitter *orders.Submitter
	poller    *orders.StatusPoller
	logger    *log.Logger
	runID     string

	machine       *models.DayStateMachine
	date          time.Time
	or            *models.OpeningRange
	record        *models.TradeRecord
	noTradeReason string
}

func NewDay(cfg *config.Config, clk clock.Clock, b broker.Broker, j journal.Interface,
	snapshots *models.SnapshotStore, runID string, logger *log.Logger) *Day {
	return &Day{
		cfg:       cfg,
		clk:       clk,
		broker:    b,
		journal:   j,
		snapshots: snapshots,
		submitter: orders.NewSubmitter(b, cfg.LiveSubmissionAllowed, logger),
		poller:    orders.NewStatusPoller(b, clk, logger, orders.DefaultPollerConfig),
		logger:    logger,
		runID:     runID,
		machine:   models.NewDayStateMachine(),
	}
}

// Phase returns the machine's current phase.
func (d *Day) Phase() models.DayPhase { return d.machine.Current() }

// Record returns the day's trade record, nil on a no-trade day.
func (d *Day) Record() *models.TradeRecord { return d.record }

// OpeningRange returns the captured range, nil when capture failed.
func (d *Day) OpeningRange() *models.OpeningRange { return d.or }

// NoTradeReason explains a NO_TRADE outcome for the EOD report.
func (d *Day) NoTradeReason() string { return d.noTradeReason }

// Run executes the entry side of the day. It returns nil both for an
// order parked in AWAIT_CLOSE and for a clean NO_TRADE; only wiring
// failures and cancellation surface as errors.
func (d *Day) Run(ctx context.Context) error {
	d.date = d.clk.Now()
	d.publish("configuration loaded")

	if !clock.IsTradingDay(d.date, d.cfg.Schedule.Holidays) {
		d.logger.Printf("day: %s is not a trading day", d.date.Format(models.DateOnly))
		return d.endNoTrade("market_closed", "not a trading day")
	}
	if err := d.transition(models.PhaseOpenWait, "trading_day"); err != nil {
		return err
	}

	// The opening range needs the full 09:30-10:00 bar, so the first
	// stop is the bar close, not the open.
	if err := d.clk.WaitUntil(ctx, d.cfg.OREnd(), "opening range close"); err != nil {
		return err
	}
	if err := d.transition(models.PhaseORCapture, "or_window_closed"); err != nil {
		return err
	}

	or, err := strategy.CaptureOpeningRange(ctx, d.broker, d.cfg.Broker.Underlying,
		d.date, d.clk.Location(), d.cfg.MarketOpen(), d.cfg.OREnd())
	if err != nil {
		d.logger.Printf("day: opening range unavailable: %v", err)
		return d.endNoTrade("or_unavailable", fmt.Sprintf("opening range unavailable: %v", err))
	}
	d.or = or
	d.logger.Printf("day: opening range ORO=%.2f ORH=%.2f ORL=%.2f ORC=%.2f",
		or.Open, or.High, or.Low, or.Close)
	if err := d.transition(models.PhaseStepAEval, "or_published"); err != nil {
		return err
	}

	// Equity is read once, before branch selection; sizing later reuses
	// this value so the order reflects the account as it stood at
	// decision time.
	equity, err := retry.Do(ctx, d.logger, retry.DefaultConfig, "account equity",
		func(ctx context.Context) (float64, error) {
			return d.broker.GetAccountEquity(ctx)
		})
	if err != nil {
		d.logger.Printf("day: account equity unavailable: %v", err)
		return d.endNoTrade("equity_unavailable", "account equity could not be read")
	}
	metrics.SetEquity(equity)

	var trig *models.Trigger
	switch strategy.DecideBranch(or) {
	case strategy.BranchStepA:
		trig, err = strategy.BullishTrigger(or, d.cfg.Strategy.SpreadWidth, d.clk.Now())
		if err != nil {
			return fmt.Errorf("building bullish trigger: %w", err)
		}
		metrics.IncDecision(string(trig.Setup))
		if err := d.transition(models.PhaseStepAMonitor, "bullish_or"); err != nil {
			return err
		}

	case strategy.BranchStepB:
		if err := d.transition(models.PhaseStepBScan, "bearish_or"); err != nil {
			return err
		}
		scanner := &strategy.BreakoutScanner{
			Clock:      d.clk,
			Market:     d.broker,
			Underlying: d.cfg.Broker.Underlying,
			Width:      d.cfg.Strategy.SpreadWidth,
			Logger:     d.logger,
		}
		trig, err = scanner.Scan(ctx, d.date, or)
		if err != nil {
			return fmt.Errorf("scanning for breakout: %w", err)
		}
		if trig == nil {
			return d.endNoTrade("no_breakout", "no 30-minute close below ORL by entry deadline")
		}
		metrics.IncDecision(string(trig.Setup))
		if err := d.transition(models.PhaseStepBMonitor, "orl_breakout"); err != nil {
			return err
		}

	default:
		d.logger.Printf("day: ORC equals ORO, standing aside")
		return d.endNoTrade("neutral_or", "opening range closed flat")
	}

	d.record = models.NewTradeRecord(d.date, or, trig)
	if err := d.journal.UpsertTrade(d.record); err != nil {
		return fmt.Errorf("journaling trigger: %w", err)
	}
	d.publish("trigger journaled, monitoring credit")

	credit, err := d.monitorAndSubmit(ctx, trig, equity)
	if err != nil {
		if errors.Is(err, strategy.ErrEntryWindowExpired) {
			return d.endNoTrade("entry_window_expired", "credit never met threshold by entry deadline")
		}
		if ctx.Err() != nil {
			return err
		}
		d.logger.Printf("day: monitoring failed: %v", err)
		return d.endNoTrade("fatal_error", fmt.Sprintf("monitoring failed: %v", err))
	}

	d.logger.Printf("day: order placed at net credit %.2f, awaiting settlement", credit.Net)
	if err := d.transition(models.PhaseAwaitClose, "order_placed"); err != nil {
		return err
	}
	return nil
}

// monitorAndSubmit polls the spread credit, sizes the position from the
// reading that met the threshold, and submits. The quote that clears
// the floor is the quote that prices the order.
func (d *Day) monitorAndSubmit(ctx context.Context, trig *models.Trigger, equity float64) (models.SpreadCredit, error) {
	eval := strategy.NewCreditEvaluator(d.broker, d.cfg.Broker.OptionRoot,
		d.cfg.Strategy.SlippageBuffer, d.cfg.Strategy.MinNetCredit)
	monitor := &strategy.Monitor{
		Clock:    d.clk,
		Eval:     eval,
		Interval: d.cfg.PollInterval(),
		Logger:   d.logger,
	}

	credit, err := monitor.Run(ctx, d.date, trig, d.cfg.EntryDeadline())
	if err != nil {
		return models.SpreadCredit{}, err
	}

	sizing := strategy.Size(equity, credit.Net, strategy.SizerConfig{
		DailyRiskPct: d.cfg.Risk.DailyRiskPct,
		MinContracts: d.cfg.Risk.MinContracts,
		MaxContracts: d.cfg.Risk.MaxContracts,
		SpreadWidth:  d.cfg.Strategy.SpreadWidth,
	})

	order := broker.CreditSpreadOrder{
		Root:       d.cfg.Broker.OptionRoot,
		Expiry:     d.date,
		TradeType:  trig.TradeType,
		KShort:     trig.KShort,
		KLong:      trig.KLong,
		Quantity:   sizing.Qty,
		LimitPrice: credit.Gross,
	}
	sub, err := d.submitter.Submit(ctx, order)
	if err != nil {
		return models.SpreadCredit{}, fmt.Errorf("submitting order: %w", err)
	}

	status := d.poller.Refine(ctx, sub.OrderID, sub.Status)

	d.record.ApplyFill(models.Fill{
		FillTime:         d.clk.Now(),
		CGross:           credit.Gross,
		Slippage:         eval.Slippage(),
		CNet:             credit.Net,
		Qty:              sizing.Qty,
		RDay:             sizing.RDay,
		MaxLossPerSpread: sizing.MaxLossPerSpread,
		EquityBefore:     equity,
		OrderID:          sub.OrderID,
		OrderStatus:      status,
	})
	if err := d.journal.UpsertTrade(d.record); err != nil {
		return models.SpreadCredit{}, fmt.Errorf("journaling fill: %w", err)
	}
	d.publish("order " + sub.OrderID + " " + status)
	return credit, nil
}

func (d *Day) transition(to models.DayPhase, condition string) error {
	if err := d.machine.Transition(to, condition); err != nil {
		return err
	}
	metrics.SetDayPhase(string(to), allPhases)
	d.publish(d.machine.PhaseDescription())
	return nil
}

// endNoTrade parks the day in its terminal no-trade phase. A failed
// transition here means a state-machine bug, which is worth crashing
// over.
func (d *Day) endNoTrade(condition, reason string) error {
	d.noTradeReason = reason
	if err := d.machine.Transition(models.PhaseNoTrade, condition); err != nil {
		return err
	}
	metrics.SetDayPhase(string(models.PhaseNoTrade), allPhases)
	d.publish(reason)
	return nil
}

func (d *Day) publish(detail string) {
	d.snapshots.Publish(models.DaySnapshot{
		RunID:        d.runID,
		Date:         d.date.Format(models.DateOnly),
		Phase:        d.machine.Current(),
		PhaseDetail:  detail,
		OpeningRange: d.or,
		Record:       d.record,
	})
}
