package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/models"
)

var testExpiry = time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

// fakeBroker records placements and scripts the order endpoints.
type fakeBroker struct {
	placeResult *broker.PlacementResult
	placeErr    error
	placed      []broker.CreditSpreadOrder

	todays      []broker.OrderDetail
	todaysErr   error
	todaysCalls int

	statusSeq   []broker.OrderDetail
	statusCalls int
}

func (f *fakeBroker) GetCandles(context.Context, string, time.Time, time.Time) ([]models.Candle, error) {
	return nil, nil
}
func (f *fakeBroker) GetOptionQuotes(context.Context, []string) (map[string]models.QuoteSnapshot, error) {
	return nil, nil
}
func (f *fakeBroker) GetIndexClose(context.Context, string, time.Time) (float64, error) {
	return 0, nil
}
func (f *fakeBroker) GetAccountEquity(context.Context) (float64, error) { return 0, nil }

func (f *fakeBroker) PlaceSpreadOrder(_ context.Context, order broker.CreditSpreadOrder) (*broker.PlacementResult, error) {
	f.placed = append(f.placed, order)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return f.placeResult, nil
}

func (f *fakeBroker) GetTodaysOrders(context.Context) ([]broker.OrderDetail, error) {
	f.todaysCalls++
	if f.todaysErr != nil {
		return nil, f.todaysErr
	}
	return f.todays, nil
}

func (f *fakeBroker) GetOrderStatus(context.Context, string) (*broker.OrderDetail, error) {
	i := f.statusCalls
	f.statusCalls++
	if i >= len(f.statusSeq) {
		i = len(f.statusSeq) - 1
	}
	if i < 0 {
		return nil, errors.New("no status scripted")
	}
	d := f.statusSeq[i]
	return &d, nil
}

func testOrder() broker.CreditSpreadOrder {
	return broker.CreditSpreadOrder{
		Root:       "SPXW",
		Expiry:     testExpiry,
		TradeType:  models.TradePut,
		KShort:     5435,
		KLong:      5425,
		Quantity:   5,
		LimitPrice: 4.70,
	}
}

func always(v bool) func() bool { return func() bool { return v } }

func TestSubmit_DryRunGate(t *testing.T) {
	fb := &fakeBroker{}
	s := NewSubmitter(fb, always(false), nil)

	sub, err := s.Submit(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if sub.OrderID != models.DryRunOrderID || sub.Status != models.StatusDryRun {
		t.Errorf("submission = %+v, want synthetic dry-run record", sub)
	}
	if sub.Mode != ModeDryRun {
		t.Errorf("mode = %s, want %s", sub.Mode, ModeDryRun)
	}
	if len(fb.placed) != 0 {
		t.Fatalf("dry run reached the broker: %d orders placed", len(fb.placed))
	}
}

func TestSubmit_DryRunDeterministic(t *testing.T) {
	s := NewSubmitter(&fakeBroker{}, always(false), nil)

	a, err := s.Submit(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("first Submit() error: %v", err)
	}
	b, err := s.Submit(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("second Submit() error: %v", err)
	}
	if a.OrderID != b.OrderID || a.Status != b.Status || a.Payload.Tag != b.Payload.Tag {
		t.Errorf("identical inputs produced different records: %+v vs %+v", a, b)
	}
	if a.Payload.Tag == "" {
		t.Error("submission carries no correlation tag")
	}
}

func TestSubmit_LiveConfirmedByBody(t *testing.T) {
	fb := &fakeBroker{placeResult: &broker.PlacementResult{
		OrderID: "1004055538123",
		Status:  "WORKING",
		Source:  broker.ConfirmedByBody,
	}}
	s := NewSubmitter(fb, always(true), nil)

	sub, err := s.Submit(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if sub.OrderID != "1004055538123" || sub.Status != "WORKING" || sub.Mode != ModeLive {
		t.Errorf("submission = %+v, want live confirmed order", sub)
	}
	if len(fb.placed) != 1 {
		t.Fatalf("placed %d orders, want exactly 1", len(fb.placed))
	}
	if fb.todaysCalls != 0 {
		t.Errorf("lookup ran %d times despite a confirmed id", fb.todaysCalls)
	}
}

func TestSubmit_LiveErrorNoRetry(t *testing.T) {
	fb := &fakeBroker{placeErr: errors.New("500 internal server error")}
	s := NewSubmitter(fb, always(true), nil)

	_, err := s.Submit(context.Background(), testOrder())
	if err == nil {
		t.Fatal("Submit() should propagate the placement error")
	}
	if len(fb.placed) != 1 {
		t.Fatalf("placed %d times, want exactly 1: submission must never retry", len(fb.placed))
	}
}

func TestSubmit_UnconfirmedRecoveredByLookup(t *testing.T) {
	order := testOrder()
	shortSym := broker.OptionSymbol(order.Root, order.Expiry, order.TradeType, order.KShort)
	longSym := broker.OptionSymbol(order.Root, order.Expiry, order.TradeType, order.KLong)

	fb := &fakeBroker{
		placeResult: &broker.PlacementResult{Source: broker.Unconfirmed},
		todays: []broker.OrderDetail{
			{OrderID: "111", Status: "FILLED", Legs: []broker.OrderLeg{{Symbol: "SPY   260824P00540000", Quantity: 1}, {Symbol: "SPY   260824P00530000", Quantity: 1}}},
			{OrderID: "222", Status: "WORKING", Legs: []broker.OrderLeg{
				{Symbol: longSym, Quantity: 5},
				{Symbol: shortSym, Quantity: 5},
			}},
		},
	}
	s := NewSubmitter(fb, always(true), nil)

	sub, err := s.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if sub.OrderID != "222" || sub.Status != "WORKING" {
		t.Errorf("submission = %+v, want id 222 recovered from lookup", sub)
	}
	if sub.Source != broker.ConfirmedByLookup {
		t.Errorf("source = %s, want lookup", sub.Source)
	}
}

func TestSubmit_UnconfirmedStaysPending(t *testing.T) {
	fb := &fakeBroker{
		placeResult: &broker.PlacementResult{Source: broker.Unconfirmed},
		todays:      nil, // order never shows up
	}
	s := NewSubmitter(fb, always(true), nil)
	s.lookupRetry.InitialBackoff = time.Millisecond
	s.lookupRetry.MaxBackoff = time.Millisecond

	sub, err := s.Submit(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if sub.OrderID != models.PendingOrderID || sub.Status != models.StatusAcceptedUnconfirmed {
		t.Errorf("submission = %+v, want PENDING / ACCEPTED_UNCONFIRMED", sub)
	}
	if fb.todaysCalls < 2 {
		t.Errorf("lookup attempted %d times, want retries before giving up", fb.todaysCalls)
	}
	if len(fb.placed) != 1 {
		t.Fatalf("placed %d times, want exactly 1", len(fb.placed))
	}
}

func TestSubmit_InvalidOrderRejected(t *testing.T) {
	fb := &fakeBroker{}
	s := NewSubmitter(fb, always(true), nil)

	bad := testOrder()
	bad.KLong = bad.KShort + 10 // long above short on a PUT spread

	if _, err := s.Submit(context.Background(), bad); err == nil {
		t.Fatal("Submit() should reject an invalid spread before the gate")
	}
	if len(fb.placed) != 0 {
		t.Error("invalid order reached the broker")
	}
}

func TestClientOrderTag(t *testing.T) {
	a := ClientOrderTag(testOrder())
	b := ClientOrderTag(testOrder())
	if a != b {
		t.Errorf("tags differ for identical orders: %s vs %s", a, b)
	}

	other := testOrder()
	other.Quantity = 6
	if ClientOrderTag(other) == a {
		t.Error("tag did not change with the order quantity")
	}
}

// simClock lets the poller run without real sleeps.
type simClock struct {
	now time.Time
	loc *time.Location
}

func (c *simClock) Now() time.Time           { return c.now }
func (c *simClock) Location() *time.Location { return c.loc }
func (c *simClock) WaitUntil(ctx context.Context, hm clock.HM, _ string) error {
	target := clock.At(c.loc, c.now, hm)
	if c.now.Before(target) {
		c.now = target
	}
	return ctx.Err()
}
func (c *simClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

func TestStatusPoller_RefinesToFilled(t *testing.T) {
	fb := &fakeBroker{statusSeq: []broker.OrderDetail{
		{OrderID: "222", Status: "WORKING"},
		{OrderID: "222", Status: "WORKING"},
		{OrderID: "222", Status: "FILLED"},
	}}
	clk := &simClock{now: time.Now(), loc: time.UTC}
	p := NewStatusPoller(fb, clk, nil, PollerConfig{Interval: time.Second, Timeout: time.Minute})

	got := p.Refine(context.Background(), "222", "WORKING")
	if got != "FILLED" {
		t.Errorf("Refine() = %s, want FILLED", got)
	}
	if fb.statusCalls != 3 {
		t.Errorf("polled %d times, want 3", fb.statusCalls)
	}
}

func TestStatusPoller_SkipsSyntheticIDs(t *testing.T) {
	fb := &fakeBroker{}
	clk := &simClock{now: time.Now(), loc: time.UTC}
	p := NewStatusPoller(fb, clk, nil, PollerConfig{})

	for _, id := range []string{models.DryRunOrderID, models.PendingOrderID, ""} {
		if got := p.Refine(context.Background(), id, "DRY_RUN"); got != "DRY_RUN" {
			t.Errorf("Refine(%q) = %s, want unchanged", id, got)
		}
	}
	if fb.statusCalls != 0 {
		t.Errorf("polled %d times for synthetic ids, want 0", fb.statusCalls)
	}
}

func TestIsTerminalStatus(t *testing.T) {
	for _, s := range []string{"FILLED", "filled", "CANCELED", "REJECTED", "EXPIRED"} {
		if !IsTerminalStatus(s) {
			t.Errorf("IsTerminalStatus(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"WORKING", "PENDING_ACTIVATION", "QUEUED", ""} {
		if IsTerminalStatus(s) {
			t.Errorf("IsTerminalStatus(%q) = true, want false", s)
		}
	}
}
