// Command integration replays full simulated trading days against the
// mock broker with an accelerated clock. It exercises the entry
// pipeline end to end (range capture, branch selection, credit
// monitoring, the submission gate, and settlement math) and exits
// non-zero when any invariant breaks.
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/journal"
	"github.com/avollmer/openrange/internal/mock"
	"github.com/avollmer/openrange/internal/models"
	"github.com/avollmer/openrange/internal/orders"
	"github.com/avollmer/openrange/internal/strategy"
)

var (
	etZone   = time.FixedZone("ET", -4*3600)
	tradeDay = time.Date(2026, 8, 24, 0, 0, 0, 0, etZone)

	hmOpen     = clock.HM{Hour: 9, Minute: 30}
	hmOREnd    = clock.HM{Hour: 10, Minute: 0}
	hmDeadline = clock.HM{Hour: 12, Minute: 0}

	failures int
)

func check(ok bool, format string, args ...any) {
	if !ok {
		failures++
		fmt.Printf("  FAIL: %s\n", fmt.Sprintf(format, args...))
	}
}

func approx(got, want float64) bool { return math.Abs(got-want) < 1e-9 }

func main() {
	logger := log.New(os.Stdout, "[sim] ", log.LstdFlags)

	fmt.Println("=== OpenRange simulated-day integration run ===")

	runBullishDay(logger)
	runBearishBreakoutDay(logger)
	runDryRunGate(logger)

	if failures > 0 {
		fmt.Printf("\n%d invariant(s) failed\n", failures)
		os.Exit(1)
	}
	fmt.Println("\nall scenarios passed")
}

// runBullishDay replays a bullish opening range: PUT spread filled at
// net 4.60, settled in the money for a 100-dollar loss.
func runBullishDay(logger *log.Logger) {
	fmt.Println("\n--- scenario: bullish OR, PUT spread, ITM settlement ---")

	expiry := clock.At(etZone, tradeDay, hmOREnd)
	shortSym := broker.OptionSymbol("SPXW", expiry, models.TradePut, 5435)
	longSym := broker.OptionSymbol("SPXW", expiry, models.TradePut, 5425)

	b := &mock.Broker{
		Equity: 100000,
		Candles: []models.Candle{
			mock.Bar(etZone, tradeDay, hmOpen, 5430.00, 5437.50, 5428.00, 5433.70),
		},
		QuoteScript: []map[string]models.QuoteSnapshot{
			// First poll misses the floor, second meets it.
			mock.SpreadQuotes(shortSym, longSym, 9.80, 10.20, 5.40, 5.60),
			mock.SpreadQuotes(shortSym, longSym, 10.00, 10.40, 5.40, 5.60),
		},
		Placement:    &broker.PlacementResult{OrderID: "SIM-PUT-1", Status: "WORKING", Source: broker.ConfirmedByBody},
		StatusScript: []string{"WORKING", "FILLED"},
		IndexClose:   5430.20,
	}
	clk := mock.NewClock(clock.At(etZone, tradeDay, hmOREnd))

	rec, err := driveEntry(logger, clk, b, true)
	check(err == nil, "entry pipeline: %v", err)
	if rec == nil {
		return
	}

	check(rec.Setup == models.SetupBullishOR, "setup = %s", rec.Setup)
	check(approx(rec.KShort, 5435) && approx(rec.KLong, 5425), "strikes %g/%g", rec.KShort, rec.KLong)
	check(approx(rec.CNetFill, 4.60), "net credit = %.2f", rec.CNetFill)
	check(rec.Qty == 5, "qty = %d", rec.Qty)
	check(rec.OrderID == "SIM-PUT-1" && rec.OrderStatus == "FILLED",
		"order %s %s", rec.OrderID, rec.OrderStatus)
	check(b.QuoteCalls() == 2, "quote polls = %d", b.QuoteCalls())

	settle(logger, b, rec)
	check(rec.Settled(), "record not settled")
	check(approx(rec.SettlementValue, 4.80), "settlement value = %.2f", rec.SettlementValue)
	check(approx(rec.TotalPnL, -100), "total P/L = %.2f", rec.TotalPnL)
}

// runBearishBreakoutDay replays a bearish range with a 10:30 close
// below ORL: CALL spread, expires worthless, full credit kept.
func runBearishBreakoutDay(logger *log.Logger) {
	fmt.Println("\n--- scenario: bearish OR, ORL breakout, CALL spread ---")

	expiry := clock.At(etZone, tradeDay, hmOREnd)
	shortSym := broker.OptionSymbol("SPXW", expiry, models.TradeCall, 5420)
	longSym := broker.OptionSymbol("SPXW", expiry, models.TradeCall, 5430)

	b := &mock.Broker{
		Equity: 100000,
		Candles: []models.Candle{
			mock.Bar(etZone, tradeDay, hmOpen, 5430.00, 5431.00, 5420.00, 5424.00),
			mock.Bar(etZone, tradeDay, clock.HM{Hour: 10, Minute: 0}, 5424.00, 5428.00, 5420.50, 5421.00),
			mock.Bar(etZone, tradeDay, clock.HM{Hour: 10, Minute: 30}, 5421.00, 5422.00, 5415.00, 5418.00),
		},
		QuoteScript: []map[string]models.QuoteSnapshot{
			mock.SpreadQuotes(shortSym, longSym, 9.80, 10.20, 5.20, 5.40),
		},
		Placement:    &broker.PlacementResult{OrderID: "SIM-CALL-1", Status: "WORKING", Source: broker.ConfirmedByBody},
		StatusScript: []string{"FILLED"},
		IndexClose:   5408.00,
	}
	clk := mock.NewClock(clock.At(etZone, tradeDay, hmOREnd))

	rec, err := driveEntry(logger, clk, b, true)
	check(err == nil, "entry pipeline: %v", err)
	if rec == nil {
		return
	}

	check(rec.Setup == models.SetupBearishORLBreakout, "setup = %s", rec.Setup)
	check(rec.TradeType == models.TradeCall, "trade type = %s", rec.TradeType)
	check(approx(rec.KShort, 5420) && approx(rec.KLong, 5430), "strikes %g/%g", rec.KShort, rec.KLong)
	check(approx(rec.SPXEntry, 5418), "entry = %.2f", rec.SPXEntry)

	settle(logger, b, rec)
	check(approx(rec.SettlementValue, 0), "settlement value = %.2f", rec.SettlementValue)
	check(approx(rec.TotalPnL, float64(rec.Qty)*460), "total P/L = %.2f", rec.TotalPnL)
}

// runDryRunGate proves the safety gate: with live trading disabled the
// broker's order endpoint is never reached.
func runDryRunGate(logger *log.Logger) {
	fmt.Println("\n--- scenario: dry-run gate blocks submission ---")

	expiry := clock.At(etZone, tradeDay, hmOREnd)
	shortSym := broker.OptionSymbol("SPXW", expiry, models.TradePut, 5435)
	longSym := broker.OptionSymbol("SPXW", expiry, models.TradePut, 5425)

	b := &mock.Broker{
		Equity: 100000,
		Candles: []models.Candle{
			mock.Bar(etZone, tradeDay, hmOpen, 5430.00, 5437.50, 5428.00, 5433.70),
		},
		QuoteScript: []map[string]models.QuoteSnapshot{
			mock.SpreadQuotes(shortSym, longSym, 10.00, 10.40, 5.40, 5.60),
		},
	}
	clk := mock.NewClock(clock.At(etZone, tradeDay, hmOREnd))

	rec, err := driveEntry(logger, clk, b, false)
	check(err == nil, "entry pipeline: %v", err)
	if rec == nil {
		return
	}

	check(len(b.Placed) == 0, "dry run placed %d orders", len(b.Placed))
	check(rec.OrderID == models.DryRunOrderID, "order id = %s", rec.OrderID)
	check(rec.OrderStatus == models.StatusDryRun, "order status = %s", rec.OrderStatus)
}

// driveEntry runs range capture, branch selection, monitoring, sizing,
// and submission against the staged broker, journaling each phase into
// a throwaway CSV journal.
func driveEntry(logger *log.Logger, clk *mock.Clock, b *mock.Broker, live bool) (*models.TradeRecord, error) {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "openrange-sim-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	j, err := journal.NewCSV(filepath.Join(dir, "trades.csv"), dir)
	if err != nil {
		return nil, err
	}

	or, err := strategy.CaptureOpeningRange(ctx, b, "$SPX", tradeDay, etZone, hmOpen, hmOREnd)
	if err != nil {
		return nil, fmt.Errorf("capturing opening range: %w", err)
	}

	var trig *models.Trigger
	switch strategy.DecideBranch(or) {
	case strategy.BranchStepA:
		trig, err = strategy.BullishTrigger(or, 10, clk.Now())
	case strategy.BranchStepB:
		scanner := &strategy.BreakoutScanner{
			Clock: clk, Market: b, Underlying: "$SPX", Width: 10, Logger: logger,
		}
		trig, err = scanner.Scan(ctx, tradeDay, or)
	default:
		return nil, fmt.Errorf("neutral opening range in a trade scenario")
	}
	if err != nil {
		return nil, err
	}
	if trig == nil {
		return nil, fmt.Errorf("no trigger produced")
	}

	rec := models.NewTradeRecord(tradeDay, or, trig)
	if err := j.UpsertTrade(rec); err != nil {
		return nil, err
	}

	eval := strategy.NewCreditEvaluator(b, "SPXW", 0.10, 4.60)
	monitor := &strategy.Monitor{Clock: clk, Eval: eval, Interval: 10 * time.Second, Logger: logger}
	credit, err := monitor.Run(ctx, tradeDay, trig, hmDeadline)
	if err != nil {
		return nil, fmt.Errorf("monitoring credit: %w", err)
	}

	equity, err := b.GetAccountEquity(ctx)
	if err != nil {
		return nil, err
	}
	sizing := strategy.Size(equity, credit.Net, strategy.SizerConfig{
		DailyRiskPct: 0.03, MinContracts: 1, MaxContracts: 50, SpreadWidth: 10,
	})

	submitter := orders.NewSubmitter(b, func() bool { return live }, logger)
	sub, err := submitter.Submit(ctx, broker.CreditSpreadOrder{
		Root: "SPXW", Expiry: tradeDay, TradeType: trig.TradeType,
		KShort: trig.KShort, KLong: trig.KLong,
		Quantity: sizing.Qty, LimitPrice: credit.Gross,
	})
	if err != nil {
		return nil, fmt.Errorf("submitting: %w", err)
	}

	poller := orders.NewStatusPoller(b, clk, logger, orders.DefaultPollerConfig)
	status := poller.Refine(ctx, sub.OrderID, sub.Status)

	rec.ApplyFill(models.Fill{
		FillTime: clk.Now(),
		CGross:   credit.Gross, Slippage: eval.Slippage(), CNet: credit.Net,
		Qty: sizing.Qty, RDay: sizing.RDay, MaxLossPerSpread: sizing.MaxLossPerSpread,
		EquityBefore: equity, OrderID: sub.OrderID, OrderStatus: status,
	})
	if err := j.UpsertTrade(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// settle applies the expiration outcome to a filled record.
func settle(logger *log.Logger, b *mock.Broker, rec *models.TradeRecord) {
	ctx := context.Background()
	spxClose, err := b.GetIndexClose(ctx, "$SPX", tradeDay)
	if err != nil {
		check(false, "settlement close: %v", err)
		return
	}
	equityAfter, _ := b.GetAccountEquity(ctx)
	rec.ApplySettlement(strategy.Settle(rec, spxClose, 10, equityAfter))
	logger.Printf("settled at %.2f: total P/L %.2f", spxClose, rec.TotalPnL)
}
