package mock

import (
	"time"

	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/models"
)

// Bar builds a 30-minute candle starting at hm on date in loc.
func Bar(loc *time.Location, date time.Time, hm clock.HM, o, h, l, c float64) models.Candle {
	return models.Candle{
		BarStart: clock.At(loc, date, hm),
		Open:     o,
		High:     h,
		Low:      l,
		Close:    c,
	}
}

// SpreadQuotes stages one quote snapshot per leg of a vertical spread.
func SpreadQuotes(shortSym, longSym string, shortBid, shortAsk, longBid, longAsk float64) map[string]models.QuoteSnapshot {
	return map[string]models.QuoteSnapshot{
		shortSym: {Bid: shortBid, Ask: shortAsk},
		longSym:  {Bid: longBid, Ask: longAsk},
	}
}
