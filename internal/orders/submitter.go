// Package orders owns order submission: the dry-run/live safety gate,
// the single outbound call, and the confirmation chain that recovers an
// order id when the broker's response does not disclose one.
package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/metrics"
	"github.com/avollmer/openrange/internal/models"
	"github.com/avollmer/openrange/internal/retry"
)

// Submission modes recorded on the trade and exported to metrics.
const (
	ModeDryRun = "dry_run"
	ModeLive   = "live"
)

// Submission is the submitter's answer: the order id and status the day
// continues with, plus the payload for the journal and logs.
type Submission struct {
	OrderID string
	Status  string
	Mode    string
	Source  broker.ConfirmationSource
	Payload broker.CreditSpreadOrder
}

// Submitter gates and performs order submission. The live predicate is
// evaluated at the point of the outbound call; no other code path can
// reach the broker's order endpoint. The mutex serialises submissions
// so a duplicate order cannot race out.
type Submitter struct {
	broker      broker.Broker
	logger      *log.Logger
	liveAllowed func() bool
	lookupRetry retry.Config

	mu sync.Mutex
}

// NewSubmitter wires the gate. liveAllowed must be the configuration's
// single live-submission predicate; when it reports false the submitter
// produces the synthetic dry-run record and nothing leaves the process.
func NewSubmitter(b broker.Broker, liveAllowed func() bool, logger *log.Logger) *Submitter {
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}
	return &Submitter{
		broker:      b,
		logger:      logger,
		liveAllowed: liveAllowed,
		lookupRetry: retry.Config{
			MaxRetries:     3,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     5 * time.Second,
			Timeout:        30 * time.Second,
		},
	}
}

// Submit places one credit spread. Dry-run submissions are pure
// functions of the order payload: identical inputs produce identical
// synthetic records. Live submissions go out exactly once; there is no
// retry, because the broker is authoritative and a second POST could
// fill twice. Confirmation never re-submits.
func (s *Submitter) Submit(ctx context.Context, order broker.CreditSpreadOrder) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := order.Validate(); err != nil {
		return nil, err
	}
	order.Tag = ClientOrderTag(order)

	payload, _ := json.Marshal(order)
	if !s.liveAllowed() {
		s.logger.Printf("DRY RUN: order payload constructed but not transmitted: %s", payload)
		metrics.IncOrder(ModeDryRun, models.StatusDryRun)
		return &Submission{
			OrderID: models.DryRunOrderID,
			Status:  models.StatusDryRun,
			Mode:    ModeDryRun,
			Source:  broker.Unconfirmed,
			Payload: order,
		}, nil
	}

	s.logger.Printf("LIVE: submitting %s", payload)
	result, err := s.broker.PlaceSpreadOrder(ctx, order)
	if err != nil {
		metrics.IncOrder(ModeLive, "error")
		return nil, fmt.Errorf("placing spread order: %w", err)
	}

	sub := &Submission{
		OrderID: result.OrderID,
		Status:  result.Status,
		Mode:    ModeLive,
		Source:  result.Source,
		Payload: order,
	}
	if result.Source == broker.Unconfirmed {
		s.confirmViaLookup(ctx, order, sub)
	}

	metrics.IncOrder(ModeLive, sub.Status)
	s.logger.Printf("order submitted: id=%s status=%s source=%s", sub.OrderID, sub.Status, sub.Source)
	return sub, nil
}

// confirmViaLookup searches the day's orders for the one just placed.
// When no match surfaces the submission stands as ACCEPTED_UNCONFIRMED
// with the PENDING id and the operator reconciles by hand.
func (s *Submitter) confirmViaLookup(ctx context.Context, order broker.CreditSpreadOrder, sub *Submission) {
	detail, err := retry.Do(ctx, s.logger, s.lookupRetry, "order lookup",
		func(ctx context.Context) (*broker.OrderDetail, error) {
			todays, err := s.broker.GetTodaysOrders(ctx)
			if err != nil {
				return nil, err
			}
			if match := matchOrder(todays, order); match != nil {
				return match, nil
			}
			return nil, retry.Retryable(fmt.Errorf("no matching order among %d returned", len(todays)))
		})
	if err != nil {
		s.logger.Printf("order id could not be recovered: %v; continuing as %s", err, models.StatusAcceptedUnconfirmed)
		sub.OrderID = models.PendingOrderID
		sub.Status = models.StatusAcceptedUnconfirmed
		sub.Source = broker.Unconfirmed
		return
	}

	sub.OrderID = detail.OrderID
	if detail.Status != "" {
		sub.Status = detail.Status
	}
	sub.Source = broker.ConfirmedByLookup
}

// matchOrder picks the most recently entered order whose legs carry the
// submitted quantity and leg symbols. Today's list arrives newest last.
func matchOrder(todays []broker.OrderDetail, order broker.CreditSpreadOrder) *broker.OrderDetail {
	shortSym := broker.OptionSymbol(order.Root, order.Expiry, order.TradeType, order.KShort)
	longSym := broker.OptionSymbol(order.Root, order.Expiry, order.TradeType, order.KLong)

	for i := len(todays) - 1; i >= 0; i-- {
		o := todays[i]
		if len(o.Legs) != 2 {
			continue
		}
		var hasShort, hasLong bool
		for _, leg := range o.Legs {
			switch leg.Symbol {
			case shortSym:
				hasShort = leg.Quantity == float64(order.Quantity)
			case longSym:
				hasLong = leg.Quantity == float64(order.Quantity)
			}
		}
		if hasShort && hasLong {
			return &o
		}
	}
	return nil
}

// ClientOrderTag derives a stable correlation id from the canonical
// order fields. Deterministic so a replayed dry run produces the same
// record, and short enough for broker tag limits.
func ClientOrderTag(order broker.CreditSpreadOrder) string {
	canonical := fmt.Sprintf("%s|%s|%s|%g|%g|%d|%.2f",
		order.Root, order.Expiry.Format("060102"), order.TradeType,
		order.KShort, order.KLong, order.Quantity, order.LimitPrice)
	sum := sha256.Sum256([]byte(canonical))
	return "or-" + hex.EncodeToString(sum[:8])
}
