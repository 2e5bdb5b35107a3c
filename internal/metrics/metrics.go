// Package metrics exposes Prometheus instrumentation for the trading day.
//
// Primary series:
//   - bot_decisions_total{setup}        – strategy decisions (bullish|bearish|no_trade)
//   - bot_quote_polls_total{result}     – credit evaluations (met|unmet|unquotable|error)
//   - bot_orders_total{mode,status}     – order submissions by mode (dry_run|live)
//   - bot_net_credit_usd                – last evaluated net credit per spread
//   - bot_equity_usd                    – account equity snapshot
//   - bot_day_phase{phase}              – active phase indicator (0/1 labeled series)
//   - bot_settlements_total{outcome}    – end-of-day reconciliations (win|loss|scratch|skipped)
//
// Served by the dashboard at /metrics in Prometheus text exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_decisions_total",
			Help: "Strategy decisions taken",
		},
		[]string{"setup"}, // bullish|bearish|no_trade
	)

	quotePolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_quote_polls_total",
			Help: "Spread credit evaluations during the monitoring window",
		},
		[]string{"result"}, // met|unmet|unquotable|error
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders submitted",
		},
		[]string{"mode", "status"}, // mode: dry_run|live
	)

	netCredit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_net_credit_usd",
			Help: "Most recently evaluated net credit per spread",
		},
	)

	equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Account equity in USD",
		},
	)

	// dayPhase exposes one labeled series per phase and flips them
	// between 0/1 so dashboards can plot the day as a step function.
	dayPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_day_phase",
			Help: "Active day phase indicator (one labeled series per phase)",
		},
		[]string{"phase"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_settlements_total",
			Help: "End-of-day settlements by outcome",
		},
		[]string{"outcome"}, // win|loss|scratch|skipped
	)
)

func init() {
	prometheus.MustRegister(decisions, quotePolls, orders)
	prometheus.MustRegister(netCredit, equity)
	prometheus.MustRegister(dayPhase, settlements)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }

func IncDecision(setup string)     { decisions.WithLabelValues(setup).Inc() }
func IncQuotePoll(result string)   { quotePolls.WithLabelValues(result).Inc() }
func IncOrder(mode, status string) { orders.WithLabelValues(mode, status).Inc() }
func SetNetCredit(v float64)       { netCredit.Set(v) }
func SetEquity(v float64)          { equity.Set(v) }
func IncSettlement(outcome string) { settlements.WithLabelValues(outcome).Inc() }

// SetDayPhase marks the named phase active and zeroes every phase
// previously marked, keeping exactly one series at 1.
func SetDayPhase(phase string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		dayPhase.WithLabelValues(p).Set(v)
	}
}
