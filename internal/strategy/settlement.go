package strategy

import (
	"github.com/avollmer/openrange/internal/models"
	"github.com/avollmer/openrange/internal/util"
)

// SettlementValue is the per-spread intrinsic value in points at cash
// settlement, clamped to [0, width]. A PUT spread pays when the index
// settles below the short strike, a CALL spread when it settles above.
func SettlementValue(tradeType models.TradeType, kShort, spxClose, width float64) float64 {
	var intrinsic float64
	switch tradeType {
	case models.TradePut:
		intrinsic = kShort - spxClose
	case models.TradeCall:
		intrinsic = spxClose - kShort
	}
	return util.RoundCents(util.Clamp(intrinsic, 0, width))
}

// Settle computes expiration results for a filled record. P/L uses the
// net credit recorded at the fill instant, per the strategy's
// accounting rule, not the broker's execution price.
func Settle(rec *models.TradeRecord, spxClose, width, equityAfter float64) models.Settlement {
	value := SettlementValue(rec.TradeType, rec.KShort, spxClose, width)
	perSpread := util.RoundCents((rec.CNetFill - value) * 100)
	return models.Settlement{
		SPXClose:        spxClose,
		SettlementValue: value,
		PnLPerSpread:    perSpread,
		TotalPnL:        util.RoundCents(perSpread * float64(rec.Qty)),
		EquityAfter:     equityAfter,
	}
}
