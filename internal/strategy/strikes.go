// Package strategy implements the decision engine of the trading day:
// opening-range capture, the two-branch setup selector, strike math,
// credit evaluation, position sizing, the quote-monitor loop, and the
// cash-settlement arithmetic.
package strategy

import (
	"fmt"
	"math"

	"github.com/avollmer/openrange/internal/models"
)

// RoundTo5 snaps a price to the 5-point strike grid: 5 * floor((x+2.5)/5).
// Idempotent on multiples of 5.
func RoundTo5(x float64) float64 {
	return 5 * math.Floor((x+2.5)/5)
}

// StrikesFor derives the short and long strikes for a credit spread
// entered at entry. The short strike is the ATM strike on the 5-point
// grid; the long strike sits width points below it for a PUT spread and
// width points above it for a CALL spread.
func StrikesFor(tradeType models.TradeType, entry, width float64) (kShort, kLong float64, err error) {
	kShort = RoundTo5(entry)
	switch tradeType {
	case models.TradePut:
		kLong = kShort - width
	case models.TradeCall:
		kLong = kShort + width
	default:
		return 0, 0, fmt.Errorf("unknown trade type %q", tradeType)
	}
	return kShort, kLong, nil
}
