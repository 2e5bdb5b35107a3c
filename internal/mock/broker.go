// Package mock provides a scripted broker and an accelerated clock for
// tests and the simulation harness. Nothing here touches the network;
// every response is staged up front so full trading days replay
// deterministically.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/models"
)

// Broker replays a staged session. The zero value returns errors for
// everything; stage the fields a scenario needs.
type Broker struct {
	mu sync.Mutex

	// Equity is returned by GetAccountEquity unless EquityErr is set.
	Equity    float64
	EquityErr error

	// Candles is the session's full 30-minute series; GetCandles
	// filters by bar start to the requested [start, end) window.
	Candles    []models.Candle
	CandlesErr error

	// QuoteScript is consumed one entry per GetOptionQuotes call; the
	// final entry repeats once the script runs out. QuoteErrs, when
	// non-nil at the same index, takes precedence.
	QuoteScript []map[string]models.QuoteSnapshot
	QuoteErrs   []error
	quoteCalls  int

	// IndexClose is returned by GetIndexClose unless IndexCloseErr is
	// set.
	IndexClose    float64
	IndexCloseErr error

	// Placement is returned by PlaceSpreadOrder; PlacementErr takes
	// precedence. Submitted orders accumulate in Placed.
	Placement    *broker.PlacementResult
	PlacementErr error
	Placed       []broker.CreditSpreadOrder

	// TodaysOrders backs GetTodaysOrders.
	TodaysOrders []broker.OrderDetail

	// StatusScript is consumed one entry per GetOrderStatus call; the
	// final entry repeats.
	StatusScript []string
	statusCalls  int
}

var _ broker.Broker = (*Broker)(nil)

func (b *Broker) GetAccountEquity(_ context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EquityErr != nil {
		return 0, b.EquityErr
	}
	if b.Equity == 0 {
		return 0, fmt.Errorf("mock broker: no equity staged")
	}
	return b.Equity, nil
}

func (b *Broker) GetCandles(_ context.Context, _ string, start, end time.Time) ([]models.Candle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CandlesErr != nil {
		return nil, b.CandlesErr
	}
	var out []models.Candle
	for _, c := range b.Candles {
		if !c.BarStart.Before(start) && c.BarStart.Before(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (b *Broker) GetOptionQuotes(_ context.Context, symbols []string) (map[string]models.QuoteSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.quoteCalls
	b.quoteCalls++
	if i < len(b.QuoteErrs) && b.QuoteErrs[i] != nil {
		return nil, b.QuoteErrs[i]
	}
	if len(b.QuoteScript) == 0 {
		return nil, fmt.Errorf("mock broker: no quotes staged")
	}
	if i >= len(b.QuoteScript) {
		i = len(b.QuoteScript) - 1
	}
	out := make(map[string]models.QuoteSnapshot, len(symbols))
	for _, sym := range symbols {
		if q, ok := b.QuoteScript[i][sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}

func (b *Broker) GetIndexClose(_ context.Context, _ string, _ time.Time) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.IndexCloseErr != nil {
		return 0, b.IndexCloseErr
	}
	if b.IndexClose == 0 {
		return 0, fmt.Errorf("mock broker: no index close staged")
	}
	return b.IndexClose, nil
}

func (b *Broker) PlaceSpreadOrder(_ context.Context, order broker.CreditSpreadOrder) (*broker.PlacementResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PlacementErr != nil {
		return nil, b.PlacementErr
	}
	b.Placed = append(b.Placed, order)
	if b.Placement == nil {
		return &broker.PlacementResult{
			OrderID: fmt.Sprintf("SIM-%d", len(b.Placed)),
			Status:  "WORKING",
			Source:  broker.ConfirmedByBody,
		}, nil
	}
	res := *b.Placement
	return &res, nil
}

func (b *Broker) GetTodaysOrders(_ context.Context) ([]broker.OrderDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.OrderDetail, len(b.TodaysOrders))
	copy(out, b.TodaysOrders)
	return out, nil
}

func (b *Broker) GetOrderStatus(_ context.Context, orderID string) (*broker.OrderDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.StatusScript) == 0 {
		return nil, fmt.Errorf("mock broker: no status staged for %s", orderID)
	}
	i := b.statusCalls
	b.statusCalls++
	if i >= len(b.StatusScript) {
		i = len(b.StatusScript) - 1
	}
	return &broker.OrderDetail{OrderID: orderID, Status: b.StatusScript[i]}, nil
}

// QuoteCalls reports how many quote polls the scenario consumed.
func (b *Broker) QuoteCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quoteCalls
}
