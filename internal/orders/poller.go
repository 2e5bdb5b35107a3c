package orders

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/models"
)

// PollerConfig bounds the post-submission status refinement.
type PollerConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultPollerConfig suits a DAY limit order expected to fill quickly
// at its own quoted mid.
var DefaultPollerConfig = PollerConfig{
	Interval: 5 * time.Second,
	Timeout:  2 * time.Minute,
}

// StatusPoller follows a submitted order's status read-only: it refines
// the recorded status (e.g. WORKING to FILLED) but never cancels,
// replaces, or re-submits.
type StatusPoller struct {
	broker broker.Broker
	clock  clock.Clock
	logger *log.Logger
	config PollerConfig
}

// NewStatusPoller builds a poller with cfg, falling back to defaults
// for non-positive values.
func NewStatusPoller(b broker.Broker, c clock.Clock, logger *log.Logger, cfg PollerConfig) *StatusPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollerConfig.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPollerConfig.Timeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &StatusPoller{broker: b, clock: c, logger: logger, config: cfg}
}

// Refine polls until the order reaches a terminal state or the budget
// runs out, returning the last status seen. Synthetic and unresolved
// ids are returned unchanged; there is nothing to poll.
func (p *StatusPoller) Refine(ctx context.Context, orderID, current string) string {
	if orderID == "" || orderID == models.DryRunOrderID || orderID == models.PendingOrderID {
		return current
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	status := current
	for {
		detail, err := p.broker.GetOrderStatus(ctx, orderID)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Printf("status poll for order %s stopped: %v; last status %s", orderID, ctx.Err(), status)
				return status
			}
			p.logger.Printf("status poll for order %s failed: %v; retrying", orderID, err)
		} else if detail.Status != "" {
			if detail.Status != status {
				p.logger.Printf("order %s status: %s -> %s", orderID, status, detail.Status)
			}
			status = detail.Status
			if IsTerminalStatus(status) {
				return status
			}
		}

		if err := p.clock.Sleep(ctx, p.config.Interval); err != nil {
			p.logger.Printf("status poll for order %s stopped: %v; last status %s", orderID, err, status)
			return status
		}
	}
}

// IsTerminalStatus reports whether an order status can no longer
// change.
func IsTerminalStatus(status string) bool {
	switch strings.ToUpper(status) {
	case "FILLED", "CANCELED", "CANCELLED", "REJECTED", "EXPIRED", "REPLACED":
		return true
	}
	return false
}
