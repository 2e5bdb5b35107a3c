package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/models"
	"github.com/avollmer/openrange/internal/util"
)

// ErrUnquotable is returned when either leg of the spread carries a
// zero bid or ask, leaving the mid undefined. Within the monitoring
// window this is tolerated and retried on the next tick.
var ErrUnquotable = errors.New("spread unquotable: a leg has no usable bid/ask")

// CreditEvaluator prices a vertical credit spread from one paired quote
// snapshot. The mid price anchors order submission; the slippage buffer
// models the expected execution shortfall versus mid and gates the
// decision only.
type CreditEvaluator struct {
	market   broker.MarketData
	root     string
	slippage float64
	minNet   float64
}

// NewCreditEvaluator builds an evaluator for option legs on root.
func NewCreditEvaluator(market broker.MarketData, root string, slippage, minNet float64) *CreditEvaluator {
	return &CreditEvaluator{
		market:   market,
		root:     root,
		slippage: slippage,
		minNet:   minNet,
	}
}

// Evaluate fetches both legs in one round-trip and derives the spread
// credit. Both mids must be defined; otherwise ErrUnquotable.
func (e *CreditEvaluator) Evaluate(ctx context.Context, expiry time.Time, tradeType models.TradeType, kShort, kLong float64) (models.SpreadCredit, error) {
	shortSym := broker.OptionSymbol(e.root, expiry, tradeType, kShort)
	longSym := broker.OptionSymbol(e.root, expiry, tradeType, kLong)

	quotes, err := e.market.GetOptionQuotes(ctx, []string{shortSym, longSym})
	if err != nil {
		return models.SpreadCredit{}, fmt.Errorf("fetching leg quotes: %w", err)
	}

	shortMid, okShort := quotes[shortSym].Mid()
	longMid, okLong := quotes[longSym].Mid()
	if !okShort || !okLong {
		return models.SpreadCredit{}, ErrUnquotable
	}

	gross := util.RoundCents(shortMid - longMid)
	return models.SpreadCredit{
		Gross: gross,
		Net:   util.RoundCents(gross - e.slippage),
	}, nil
}

// Meets reports whether the credit clears the configured floor.
func (e *CreditEvaluator) Meets(c models.SpreadCredit) bool {
	return c.MeetsThreshold(e.minNet)
}

// Slippage returns the configured buffer, recorded on the trade.
func (e *CreditEvaluator) Slippage() float64 { return e.slippage }

// MinNetCredit returns the configured credit floor.
func (e *CreditEvaluator) MinNetCredit() float64 { return e.minNet }
