package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/avollmer/openrange/internal/models"
)

// MarketData covers the read-only market endpoints the strategy needs.
type MarketData interface {
	// GetCandles returns 30-minute candles with bar starts in [start, end).
	GetCandles(ctx context.Context, symbol string, start, end time.Time) ([]models.Candle, error)
	// GetOptionQuotes returns bid/ask snapshots keyed by option symbol.
	GetOptionQuotes(ctx context.Context, symbols []string) (map[string]models.QuoteSnapshot, error)
	// GetIndexClose returns the settlement close for the session on day.
	GetIndexClose(ctx context.Context, symbol string, day time.Time) (float64, error)
}

// Broker adds account reads and order operations on top of market data.
type Broker interface {
	MarketData

	GetAccountEquity(ctx context.Context) (float64, error)
	PlaceSpreadOrder(ctx context.Context, order CreditSpreadOrder) (*PlacementResult, error)
	GetTodaysOrders(ctx context.Context) ([]OrderDetail, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderDetail, error)
}

// CreditSpreadOrder describes one vertical credit spread: sell the
// short strike, buy the long strike, both legs opening for the same
// quantity at a net credit limit.
type CreditSpreadOrder struct {
	Root       string
	Expiry     time.Time
	TradeType  models.TradeType
	KShort     float64
	KLong      float64
	Quantity   int
	LimitPrice float64
	Tag        string
}

// Validate rejects orders whose legs cannot form a credit spread.
func (o CreditSpreadOrder) Validate() error {
	if o.Root == "" {
		return errors.New("credit spread: option root is empty")
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("credit spread: invalid quantity %d (must be > 0)", o.Quantity)
	}
	if o.LimitPrice <= 0 {
		return fmt.Errorf("credit spread: invalid credit limit %.2f (must be > 0)", o.LimitPrice)
	}
	switch o.TradeType {
	case models.TradePut:
		if o.KLong >= o.KShort {
			return fmt.Errorf("credit spread: put long strike %.2f must sit below short strike %.2f", o.KLong, o.KShort)
		}
	case models.TradeCall:
		if o.KLong <= o.KShort {
			return fmt.Errorf("credit spread: call long strike %.2f must sit above short strike %.2f", o.KLong, o.KShort)
		}
	default:
		return fmt.Errorf("credit spread: unknown trade type %q", o.TradeType)
	}
	return nil
}

// ConfirmationSource records where an order id was recovered from
// after submission.
type ConfirmationSource string

const (
	// ConfirmedByBody means the submission response body carried the id.
	ConfirmedByBody ConfirmationSource = "body"
	// ConfirmedByLocation means the id came from the Location header.
	ConfirmedByLocation ConfirmationSource = "location"
	// ConfirmedByLookup means the id was matched from the day's order list.
	ConfirmedByLookup ConfirmationSource = "lookup"
	// Unconfirmed means no id could be recovered.
	Unconfirmed ConfirmationSource = "none"
)

// PlacementResult reports the outcome of an order submission.
type PlacementResult struct {
	OrderID string
	Status  string
	Source  ConfirmationSource
}

// OrderLeg is one leg of an order as reported by the orders endpoints.
type OrderLeg struct {
	Instruction string
	Symbol      string
	Quantity    float64
}

// OrderDetail is an order as reported by the orders endpoints.
type OrderDetail struct {
	OrderID        string
	Status         string
	Price          float64
	Quantity       float64
	FilledQuantity float64
	EnteredTime    string
	Legs           []OrderLeg
}

// IsPermanentAPIError reports whether an error is an API rejection
// that retrying cannot fix. 4xx responses qualify, except 429.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetCandles wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetCandles(ctx context.Context, symbol string, start, end time.Time) ([]models.Candle, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.Candle, error) {
		return b.GetCandles(ctx, symbol, start, end)
	})
}

// GetOptionQuotes wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOptionQuotes(ctx context.Context, symbols []string) (map[string]models.QuoteSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]models.QuoteSnapshot, error) {
		return b.GetOptionQuotes(ctx, symbols)
	})
}

// GetIndexClose wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetIndexClose(ctx context.Context, symbol string, day time.Time) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetIndexClose(ctx, symbol, day)
	})
}

// GetAccountEquity wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetAccountEquity(ctx context.Context) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetAccountEquity(ctx)
	})
}

// PlaceSpreadOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) PlaceSpreadOrder(ctx context.Context, order CreditSpreadOrder) (*PlacementResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*PlacementResult, error) {
		return b.PlaceSpreadOrder(ctx, order)
	})
}

// GetTodaysOrders wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetTodaysOrders(ctx context.Context) ([]OrderDetail, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]OrderDetail, error) {
		return b.GetTodaysOrders(ctx)
	})
}

// GetOrderStatus wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID string) (*OrderDetail, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderDetail, error) {
		return b.GetOrderStatus(ctx, orderID)
	})
}
