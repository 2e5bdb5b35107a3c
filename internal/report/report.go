// Package report renders the end-of-day text report. The layout is the
// fixed-width format the daily email has always used; downstream
// archiving keys on the Filename pattern.
package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/avollmer/openrange/internal/models"
)

const separator = "======================================================================"

// Input carries everything the report needs. Record is nil on a
// NO_TRADE day; Equity is the live account value at generation time,
// negative when the lookup failed.
type Input struct {
	Date          time.Time
	GeneratedAt   time.Time
	OpeningRange  *models.OpeningRange
	Record        *models.TradeRecord
	Equity        float64
	NoTradeReason string
}

// Filename returns the artifact name for a trading date.
func Filename(date time.Time) string {
	return fmt.Sprintf("eod_report_%s.txt", date.Format(models.DateOnly))
}

// Subject returns the email subject line for the day.
func Subject(in Input) string {
	date := in.Date.Format(models.DateOnly)
	if in.Record == nil {
		return fmt.Sprintf("EOD Report %s - NO TRADE", date)
	}
	if in.Record.Settled() {
		return fmt.Sprintf("EOD Report %s - P/L $%.2f", date, in.Record.TotalPnL)
	}
	return fmt.Sprintf("EOD Report %s - %s", date, in.Record.OrderStatus)
}

// Build renders the report body.
func Build(in Input) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	section := func(title string) {
		line(separator)
		line(title)
		line(separator)
	}

	section("END OF DAY TRADING REPORT - " + in.Date.Format(models.DateOnly))
	line("Generated: %s", in.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	line("")

	section("STRATEGY")
	if in.Record != nil {
		line("Setup:                    %s", in.Record.Setup)
		line("Trade Type:               %s", in.Record.TradeType)
	} else {
		line("Setup:                    NO TRADE")
		if in.NoTradeReason != "" {
			line("Reason:                   %s", in.NoTradeReason)
		}
	}
	line("")

	section("OPENING RANGE (09:30-10:00 ET)")
	if or := openingRange(in); or != nil {
		line("ORO (Open):               $%.2f", or.Open)
		line("ORH (High):               $%.2f", or.High)
		line("ORL (Low):                $%.2f", or.Low)
		line("ORC (Close):              $%.2f", or.Close)
	} else {
		line("Opening range not captured.")
	}
	line("")

	if rec := in.Record; rec != nil {
		section("TRADE DETAILS")
		line("SPX Entry:                $%.2f", rec.SPXEntry)
		line("Trigger Time:             %s", rec.TriggerTime)
		line("Fill Time:                %s", orNA(rec.FillTime))
		line("")
		line("Strikes:")
		line("  K_short:                $%.2f", rec.KShort)
		line("  K_long:                 $%.2f", rec.KLong)
		line("  Spread Width:           %.0f points", math.Abs(rec.KShort-rec.KLong))
		line("")
		if rec.Filled() {
			line("Credit:")
			line("  C_gross (fill):          $%.2f", rec.CGrossFill)
			line("  Slippage Buffer (S):     $%.2f", rec.Slippage)
			line("  C_net (fill):            $%.2f", rec.CNetFill)
			line("")
			line("Position:")
			line("  Quantity:                %d contracts", rec.Qty)
			line("  Daily Risk Budget:       $%.2f", rec.RDay)
			line("  Max Loss per Spread:     $%.2f", rec.MaxLossPerSpread)
			line("")
		}
		line("Order ID:                 %s", orNA(rec.OrderID))
		line("Order Status:             %s", orNA(rec.OrderStatus))
		line("")

		section("PROFIT/LOSS (AT EXPIRATION)")
		switch {
		case rec.Settled():
			line("SPX Close (16:00 ET):     $%.2f", rec.SPXClose)
			line("Settlement Value:         $%.2f points", rec.SettlementValue)
			line("P/L per Spread:           $%.2f", rec.PnLPerSpread)
			line("Total P/L:                $%.2f", rec.TotalPnL)
		case rec.OrderStatus == models.StatusSettlementSkipped:
			line("Settlement skipped: closing index value unavailable.")
		default:
			line("P/L calculation pending...")
		}
		line("")
	}

	section("ACCOUNT")
	if rec := in.Record; rec != nil && rec.Filled() {
		line("Equity Before:            $%.2f", rec.EquityBefore)
		if rec.Settled() {
			line("Equity After:             $%.2f", rec.EquityAfter)
		} else {
			line("Equity After:             N/A")
		}
	} else {
		line("Equity Before:            N/A")
		line("Equity After:             N/A")
	}
	if in.Equity > 0 {
		line("Current Equity:           $%.2f", in.Equity)
	}

	return b.String()
}

func openingRange(in Input) *models.OpeningRange {
	if in.OpeningRange != nil {
		return in.OpeningRange
	}
	if in.Record != nil {
		return &models.OpeningRange{
			Open: in.Record.ORO, High: in.Record.ORH,
			Low: in.Record.ORL, Close: in.Record.ORC,
		}
	}
	return nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
