// Package models provides the data structures and day-state management
// for the credit-spread trading agent.
package models

import (
	"fmt"
	"math"
	"time"

	"github.com/avollmer/openrange/internal/util"
)

// Setup identifies which of the two daily setups triggered.
type Setup string

const (
	SetupBullishOR          Setup = "Bullish OR"
	SetupBearishORLBreakout Setup = "Bearish ORL Breakout"
)

// TradeType is the option type of the short leg.
type TradeType string

const (
	TradePut  TradeType = "PUT"
	TradeCall TradeType = "CALL"
)

// Order status values the day can end with.
const (
	StatusDryRun              = "DRY_RUN"
	StatusAcceptedUnconfirmed = "ACCEPTED_UNCONFIRMED"
	StatusSettlementSkipped   = "SETTLEMENT_SKIPPED"

	// DryRunOrderID is the synthetic order id recorded when the safety
	// gate blocks live submission.
	DryRunOrderID = "DRY_RUN_MOCK_ORDER_ID"

	// PendingOrderID is recorded when a live submission succeeded but no
	// order id could be determined from body, Location, or lookup.
	PendingOrderID = "PENDING"
)

// OpeningRange is the first 30-minute bar of the session, immutable once
// published.
type OpeningRange struct {
	BarStart time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
}

// Validate checks the OHLC ordering invariant.
func (o *OpeningRange) Validate() error {
	lo := math.Min(o.Open, o.Close)
	hi := math.Max(o.Open, o.Close)
	if o.Low > lo || hi > o.High {
		return fmt.Errorf("opening range OHLC out of order: O=%.2f H=%.2f L=%.2f C=%.2f",
			o.Open, o.High, o.Low, o.Close)
	}
	return nil
}

// Polarity reports the OR bar direction: +1 bullish (close above open),
// -1 bearish, 0 neutral. Compared in cents so an exact tie is detected.
func (o *OpeningRange) Polarity() int {
	co, oo := util.Cents(o.Close), util.Cents(o.Open)
	switch {
	case co > oo:
		return 1
	case co < oo:
		return -1
	default:
		return 0
	}
}

// Candle is one 30-minute index bar. Candles are addressed by their
// exact BarStart; two candles for the same BarStart compare equal.
type Candle struct {
	BarStart time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
}

// Equal reports whether two candles describe the same bar.
func (c Candle) Equal(other Candle) bool {
	return c.BarStart.Equal(other.BarStart) &&
		c.Open == other.Open && c.High == other.High &&
		c.Low == other.Low && c.Close == other.Close
}

// QuoteSnapshot is a point-in-time bid/ask for one option leg.
type QuoteSnapshot struct {
	Bid float64
	Ask float64
}

// Quotable reports whether both sides carry a usable price. A zero bid
// or ask marks the leg unquotable and its mid undefined.
func (q QuoteSnapshot) Quotable() bool {
	return q.Bid > 0 && q.Ask > 0
}

// Mid returns (bid+ask)/2, with ok=false when the leg is unquotable.
func (q QuoteSnapshot) Mid() (float64, bool) {
	if !q.Quotable() {
		return 0, false
	}
	return (q.Bid + q.Ask) / 2, true
}

// SpreadCredit is the derived credit of a two-leg spread at one reading.
type SpreadCredit struct {
	Gross float64 // short mid minus long mid
	Net   float64 // gross minus the slippage buffer
}

// MeetsThreshold reports Net >= minNet, compared in integer cents so the
// boundary value is exact.
func (s SpreadCredit) MeetsThreshold(minNet float64) bool {
	return util.Cents(s.Net) >= util.Cents(minNet)
}

// Sizing is the output of the position sizer for one day.
type Sizing struct {
	Qty              int
	RDay             float64
	MaxLossPerSpread float64
}

// Trigger captures the frozen branch-entry decision: once set, the entry
// price and strikes are never recomputed during monitoring.
type Trigger struct {
	Setup       Setup
	TradeType   TradeType
	SPXEntry    float64
	KShort      float64
	KLong       float64
	TriggerTime time.Time
}

// TradeRecord is the day's single trade, populated in three phases:
// trigger, fill, settlement. Field names in the serialized forms are an
// external contract and must not change.
type TradeRecord struct {
	Date        string    `json:"date"`
	Setup       Setup     `json:"setup"`
	TradeType   TradeType `json:"trade_type"`
	TriggerTime string    `json:"trigger_time"`
	FillTime    string    `json:"fill_time"`
	SPXEntry    float64   `json:"SPX_entry"`
	ORO         float64   `json:"ORO"`
	ORH         float64   `json:"ORH"`
	ORL         float64   `json:"ORL"`
	ORC         float64   `json:"ORC"`
	KShort      float64   `json:"K_short"`
	KLong       float64   `json:"K_long"`

	CGrossFill       float64 `json:"C_gross_fill"`
	Slippage         float64 `json:"S"`
	CNetFill         float64 `json:"C_net_fill"`
	Qty              int     `json:"qty"`
	RDay             float64 `json:"R_day"`
	MaxLossPerSpread float64 `json:"maxLossPerSpread"`

	SPXClose        float64 `json:"SPX_close"`
	SettlementValue float64 `json:"settlement_value"`
	PnLPerSpread    float64 `json:"pnl_per_spread"`
	TotalPnL        float64 `json:"total_pnl"`

	EquityBefore float64 `json:"equity_before"`
	EquityAfter  float64 `json:"equity_after"`
	OrderID      string  `json:"order_id"`
	OrderStatus  string  `json:"order_status"`

	filled  bool
	settled bool
}

// TimeOnly is the wall-clock format used for trigger and fill times.
const TimeOnly = "15:04:05"

// DateOnly is the trading-date format used throughout the journal.
const DateOnly = "2006-01-02"

// NewTradeRecord creates the record at trigger time with the pre-fill
// fields populated.
func NewTradeRecord(date time.Time, or *OpeningRange, trig *Trigger) *TradeRecord {
	return &TradeRecord{
		Date:        date.Format(DateOnly),
		Setup:       trig.Setup,
		TradeType:   trig.TradeType,
		TriggerTime: trig.TriggerTime.Format(TimeOnly),
		SPXEntry:    trig.SPXEntry,
		ORO:         or.Open,
		ORH:         or.High,
		ORL:         or.Low,
		ORC:         or.Close,
		KShort:      trig.KShort,
		KLong:       trig.KLong,
	}
}

// Fill carries the post-fill fields applied in one shot.
type Fill struct {
	FillTime         time.Time
	CGross           float64
	Slippage         float64
	CNet             float64
	Qty              int
	RDay             float64
	MaxLossPerSpread float64
	EquityBefore     float64
	OrderID          string
	OrderStatus      string
}

// ApplyFill records the fill-phase fields.
func (r *TradeRecord) ApplyFill(f Fill) {
	r.FillTime = f.FillTime.Format(TimeOnly)
	r.CGrossFill = f.CGross
	r.Slippage = f.Slippage
	r.CNetFill = f.CNet
	r.Qty = f.Qty
	r.RDay = f.RDay
	r.MaxLossPerSpread = f.MaxLossPerSpread
	r.EquityBefore = f.EquityBefore
	r.OrderID = f.OrderID
	r.OrderStatus = f.OrderStatus
	r.filled = true
}

// Settlement carries the post-settlement fields.
type Settlement struct {
	SPXClose        float64
	SettlementValue float64
	PnLPerSpread    float64
	TotalPnL        float64
	EquityAfter     float64
}

// ApplySettlement seals the record with expiration results.
func (r *TradeRecord) ApplySettlement(s Settlement) {
	r.SPXClose = s.SPXClose
	r.SettlementValue = s.SettlementValue
	r.PnLPerSpread = s.PnLPerSpread
	r.TotalPnL = s.TotalPnL
	r.EquityAfter = s.EquityAfter
	r.settled = true
}

// MarkSettlementSkipped flags the record when the closing print could
// not be read; settlement fields stay empty in serialized forms.
func (r *TradeRecord) MarkSettlementSkipped() {
	r.OrderStatus = StatusSettlementSkipped
	r.settled = false
}

// Filled reports whether the fill phase has been applied.
func (r *TradeRecord) Filled() bool { return r.filled }

// Settled reports whether settlement results are present.
func (r *TradeRecord) Settled() bool { return r.settled }

// MarkSettled restores the settled flag on records rebuilt from
// persisted rows that carry settlement values.
func (r *TradeRecord) MarkSettled() { r.settled = true }

// MarkFilled restores the filled flag on records rebuilt from persisted
// rows that carry fill values.
func (r *TradeRecord) MarkFilled() { r.filled = true }

// Validate enforces the structural invariants every record must satisfy
// regardless of phase.
func (r *TradeRecord) Validate() error {
	width := math.Abs(r.KLong - r.KShort)
	if util.Cents(width) != 1000 {
		return fmt.Errorf("strikes %g/%g are not 10 points apart", r.KShort, r.KLong)
	}
	if math.Mod(r.KShort, 5) != 0 || math.Mod(r.KLong, 5) != 0 {
		return fmt.Errorf("strikes %g/%g are not multiples of 5", r.KShort, r.KLong)
	}
	switch r.Setup {
	case SetupBullishOR:
		if r.TradeType != TradePut {
			return fmt.Errorf("bullish setup must trade PUT, got %s", r.TradeType)
		}
		if util.Cents(r.ORC) <= util.Cents(r.ORO) {
			return fmt.Errorf("bullish setup requires ORC > ORO, got ORC=%.2f ORO=%.2f", r.ORC, r.ORO)
		}
		if r.KLong >= r.KShort {
			return fmt.Errorf("put spread long strike %g must sit below short strike %g", r.KLong, r.KShort)
		}
	case SetupBearishORLBreakout:
		if r.TradeType != TradeCall {
			return fmt.Errorf("bearish setup must trade CALL, got %s", r.TradeType)
		}
		if util.Cents(r.ORC) >= util.Cents(r.ORO) {
			return fmt.Errorf("bearish setup requires ORC < ORO, got ORC=%.2f ORO=%.2f", r.ORC, r.ORO)
		}
		if util.Cents(r.SPXEntry) >= util.Cents(r.ORL) {
			return fmt.Errorf("breakout entry %.2f must be below ORL %.2f", r.SPXEntry, r.ORL)
		}
		if r.KLong <= r.KShort {
			return fmt.Errorf("call spread long strike %g must sit above short strike %g", r.KLong, r.KShort)
		}
	default:
		return fmt.Errorf("unknown setup %q", r.Setup)
	}
	if r.filled && r.Qty < 1 {
		return fmt.Errorf("filled record has qty %d, want >= 1", r.Qty)
	}
	return nil
}
