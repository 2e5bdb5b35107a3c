// Package journal persists the day's trade record and end-of-day
// reports. Two backends exist: a CSV ledger matching the long-standing
// tracking sheet layout, and a SQLite database that also serves the
// dashboard's history queries.
package journal

import (
	"fmt"

	"github.com/avollmer/openrange/internal/models"
)

// Interface is the persistence contract the orchestrator and dashboard
// share. Implementations are safe for concurrent use: the day driver
// writes while dashboard handlers read.
type Interface interface {
	// UpsertTrade writes the record for its date, replacing any earlier
	// phase of the same day. At most one row exists per trading date.
	UpsertTrade(rec *models.TradeRecord) error

	// TradeByDate returns the record for a YYYY-MM-DD date.
	TradeByDate(date string) (*models.TradeRecord, bool, error)

	// Trades returns every journaled record, oldest first.
	Trades() ([]models.TradeRecord, error)

	// Stats aggregates settled trades.
	Stats() (*Stats, error)

	// PersistReport writes a report artifact and returns its path.
	PersistReport(name string, payload []byte) (string, error)

	// Close releases backend resources.
	Close() error
}

// Stats summarizes the journal for the dashboard and EOD report.
type Stats struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	TotalPnL    float64 `json:"total_pnl"`
	AveragePnL  float64 `json:"average_pnl"`
}

// New selects a backend by type name ("csv" or "sqlite").
func New(backend, path, reportsDir string) (Interface, error) {
	switch backend {
	case "csv":
		return NewCSV(path, reportsDir)
	case "sqlite":
		return OpenSQLite(path, reportsDir)
	default:
		return nil, fmt.Errorf("unknown journal backend %q", backend)
	}
}

// aggregate folds settled records into Stats; both backends and the
// mock share it.
func aggregate(records []models.TradeRecord) *Stats {
	s := &Stats{}
	for _, r := range records {
		if !r.Settled() {
			continue
		}
		s.TotalTrades++
		s.TotalPnL += r.TotalPnL
		if r.TotalPnL > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
		s.AveragePnL = s.TotalPnL / float64(s.TotalTrades)
	}
	return s
}
