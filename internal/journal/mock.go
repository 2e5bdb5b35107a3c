package journal

import (
	"sync"

	"github.com/avollmer/openrange/internal/models"
)

// Mock is the in-memory journal used by tests and the simulation
// harness.
type Mock struct {
	mu      sync.Mutex
	records []models.TradeRecord

	// Reports maps artifact name to payload.
	Reports map[string][]byte

	// UpsertErr, when set, is returned by UpsertTrade.
	UpsertErr error

	// Upserts counts UpsertTrade calls, one per journaled phase.
	Upserts int
}

var _ Interface = (*Mock)(nil)

// NewMock returns an empty in-memory journal.
func NewMock() *Mock {
	return &Mock{Reports: make(map[string][]byte)}
}

func (m *Mock) UpsertTrade(rec *models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Upserts++
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	for i := range m.records {
		if m.records[i].Date == rec.Date {
			m.records[i] = *rec
			return nil
		}
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *Mock) TradeByDate(date string) (*models.TradeRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].Date == date {
			rec := m.records[i]
			return &rec, true, nil
		}
	}
	return nil, false, nil
}

func (m *Mock) Trades() ([]models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TradeRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *Mock) Stats() (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return aggregate(m.records), nil
}

func (m *Mock) PersistReport(name string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reports[name] = append([]byte(nil), payload...)
	return "mock://" + name, nil
}

func (m *Mock) Close() error { return nil }
