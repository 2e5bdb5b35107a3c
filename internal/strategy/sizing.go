package strategy

import (
	"math"

	"github.com/avollmer/openrange/internal/models"
	"github.com/avollmer/openrange/internal/util"
)

// SizerConfig bounds daily risk for position sizing.
type SizerConfig struct {
	DailyRiskPct float64
	MinContracts int
	MaxContracts int
	SpreadWidth  float64
}

// Size converts account equity and the net credit of the sizing instant
// into a contract count. The risk budget is DailyRiskPct of equity; the
// worst case per spread is (width - netCredit) * 100. A non-positive
// max loss means the quotes imply an arbitrage that cannot occur
// intraday; the count falls back to the floor.
func Size(equity, cNet float64, cfg SizerConfig) models.Sizing {
	rDay := util.RoundCents(cfg.DailyRiskPct * equity)
	maxLoss := util.RoundCents((cfg.SpreadWidth - cNet) * 100)

	qty := cfg.MinContracts
	if maxLoss > 0 {
		qty = int(math.Floor(rDay / maxLoss))
	}
	if qty < cfg.MinContracts {
		qty = cfg.MinContracts
	}
	if qty > cfg.MaxContracts {
		qty = cfg.MaxContracts
	}

	return models.Sizing{
		Qty:              qty,
		RDay:             rDay,
		MaxLossPerSpread: maxLoss,
	}
}
