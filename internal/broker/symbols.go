package broker

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/avollmer/openrange/internal/models"
)

// Option symbols follow the 21-character OSI layout used by the quotes
// and order endpoints: a root padded with spaces to 6 characters, the
// expiration as YYMMDD, C or P, and the strike in thousandths of a
// dollar zero-padded to 8 digits. "SPXW" therefore carries two trailing
// spaces and "XSP" three, e.g. "SPXW  250824P06400000".
const optionSymbolLen = 21

// OptionSymbol builds the OSI symbol for one leg.
func OptionSymbol(root string, expiry time.Time, tradeType models.TradeType, strike float64) string {
	typeChar := "C"
	if tradeType == models.TradePut {
		typeChar = "P"
	}
	// Strikes encode as thousandths; eps absorbs float representation
	// error for values like 6409.999999.
	const eps = 1e-9
	strikeMils := int(math.Round(strike*1000 + eps))
	return fmt.Sprintf("%-6s%s%s%08d", root, expiry.Format("060102"), typeChar, strikeMils)
}

// ParsedSymbol holds the fields recovered from an OSI option symbol.
type ParsedSymbol struct {
	Root      string
	Expiry    time.Time
	TradeType models.TradeType
	Strike    float64
}

// ParseOptionSymbol decodes a 21-character OSI symbol. The root is
// returned with its padding stripped.
func ParseOptionSymbol(symbol string) (ParsedSymbol, error) {
	if len(symbol) != optionSymbolLen {
		return ParsedSymbol{}, fmt.Errorf("option symbol %q: want %d characters, got %d", symbol, optionSymbolLen, len(symbol))
	}

	root := strings.TrimRight(symbol[:6], " ")
	if root == "" {
		return ParsedSymbol{}, fmt.Errorf("option symbol %q: empty root", symbol)
	}

	expiry, err := time.Parse("060102", symbol[6:12])
	if err != nil {
		return ParsedSymbol{}, fmt.Errorf("option symbol %q: bad expiration: %w", symbol, err)
	}

	var tradeType models.TradeType
	switch symbol[12] {
	case 'C':
		tradeType = models.TradeCall
	case 'P':
		tradeType = models.TradePut
	default:
		return ParsedSymbol{}, fmt.Errorf("option symbol %q: type must be C or P, got %q", symbol, symbol[12])
	}

	if !isDigits(symbol[13:]) {
		return ParsedSymbol{}, fmt.Errorf("option symbol %q: strike must be 8 digits", symbol)
	}
	var strikeMils int
	for _, c := range symbol[13:] {
		strikeMils = strikeMils*10 + int(c-'0')
	}

	return ParsedSymbol{
		Root:      root,
		Expiry:    expiry,
		TradeType: tradeType,
		Strike:    float64(strikeMils) / 1000,
	}, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
