package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/avollmer/openrange/internal/models"
)

// header is the journal's column contract. Order and names match the
// tracking sheet consumed downstream; changing either breaks it.
var header = []string{
	"date", "setup", "trade_type", "trigger_time", "fill_time",
	"SPX_entry", "ORO", "ORH", "ORL", "ORC", "K_short", "K_long",
	"C_gross_fill", "S", "C_net_fill", "qty", "R_day", "maxLossPerSpread",
	"SPX_close", "settlement_value", "pnl_per_spread", "total_pnl",
	"equity_before", "equity_after", "order_id", "order_status",
}

// CSV journals trades to a single file, one row per trading date,
// rewritten atomically on every upsert.
type CSV struct {
	mu         sync.RWMutex
	path       string
	reportsDir string
	records    []models.TradeRecord
}

var _ Interface = (*CSV)(nil)

// NewCSV opens (or creates) the CSV journal at path.
func NewCSV(path, reportsDir string) (*CSV, error) {
	c := &CSV{path: path, reportsDir: reportsDir}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := c.load(); err != nil {
			return nil, fmt.Errorf("loading journal: %w", err)
		}
	}
	return c, nil
}

// UpsertTrade replaces the row for the record's date or appends a new
// one, then rewrites the file through a temp-and-rename so a crash
// mid-write cannot truncate history.
func (c *CSV) UpsertTrade(rec *models.TradeRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	replaced := false
	for i := range c.records {
		if c.records[i].Date == rec.Date {
			c.records[i] = *rec
			replaced = true
			break
		}
	}
	if !replaced {
		c.records = append(c.records, *rec)
	}
	return c.save()
}

// TradeByDate returns the journaled record for date.
func (c *CSV) TradeByDate(date string) (*models.TradeRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.records {
		if c.records[i].Date == date {
			rec := c.records[i]
			return &rec, true, nil
		}
	}
	return nil, false, nil
}

// Trades returns a copy of every record, oldest first.
func (c *CSV) Trades() ([]models.TradeRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.TradeRecord, len(c.records))
	copy(out, c.records)
	return out, nil
}

// Stats aggregates settled trades.
func (c *CSV) Stats() (*Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return aggregate(c.records), nil
}

// PersistReport writes a report artifact under the reports directory.
func (c *CSV) PersistReport(name string, payload []byte) (string, error) {
	return writeReport(c.reportsDir, name, payload)
}

// Close is a no-op for the CSV backend.
func (c *CSV) Close() error { return nil }

func (c *CSV) load() error {
	f, err := os.Open(c.path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows[1:] {
		rec, err := recordFromRow(row)
		if err != nil {
			return err
		}
		c.records = append(c.records, *rec)
	}
	return nil
}

func (c *CSV) save() error {
	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	for i := range c.records {
		if err := w.Write(rowFromRecord(&c.records[i])); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// writeReport persists an artifact atomically and returns its path.
func writeReport(dir, name string, payload []byte) (string, error) {
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o640); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

func money(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func rowFromRecord(r *models.TradeRecord) []string {
	row := []string{
		r.Date, string(r.Setup), string(r.TradeType), r.TriggerTime, r.FillTime,
		money(r.SPXEntry), money(r.ORO), money(r.ORH), money(r.ORL), money(r.ORC),
		money(r.KShort), money(r.KLong),
	}
	if r.Filled() {
		row = append(row,
			money(r.CGrossFill), money(r.Slippage), money(r.CNetFill),
			strconv.Itoa(r.Qty), money(r.RDay), money(r.MaxLossPerSpread))
	} else {
		row = append(row, "", "", "", "", "", "")
	}
	if r.Settled() {
		row = append(row,
			money(r.SPXClose), money(r.SettlementValue),
			money(r.PnLPerSpread), money(r.TotalPnL))
	} else {
		row = append(row, "", "", "", "")
	}
	row = append(row, money(r.EquityBefore), money(r.EquityAfter), r.OrderID, r.OrderStatus)
	return row
}

func recordFromRow(row []string) (*models.TradeRecord, error) {
	if len(row) != len(header) {
		return nil, fmt.Errorf("journal row has %d columns, want %d", len(row), len(header))
	}
	f := func(s string) float64 {
		if s == "" {
			return 0
		}
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}

	rec := &models.TradeRecord{
		Date:        row[0],
		Setup:       models.Setup(row[1]),
		TradeType:   models.TradeType(row[2]),
		TriggerTime: row[3],
		FillTime:    row[4],
		SPXEntry:    f(row[5]),
		ORO:         f(row[6]),
		ORH:         f(row[7]),
		ORL:         f(row[8]),
		ORC:         f(row[9]),
		KShort:      f(row[10]),
		KLong:       f(row[11]),

		CGrossFill:       f(row[12]),
		Slippage:         f(row[13]),
		CNetFill:         f(row[14]),
		RDay:             f(row[16]),
		MaxLossPerSpread: f(row[17]),

		SPXClose:        f(row[18]),
		SettlementValue: f(row[19]),
		PnLPerSpread:    f(row[20]),
		TotalPnL:        f(row[21]),

		EquityBefore: f(row[22]),
		EquityAfter:  f(row[23]),
		OrderID:      row[24],
		OrderStatus:  row[25],
	}
	if row[15] != "" {
		qty, err := strconv.Atoi(row[15])
		if err != nil {
			return nil, fmt.Errorf("journal row for %s: bad qty %q", rec.Date, row[15])
		}
		rec.Qty = qty
	}
	if rec.FillTime != "" {
		rec.MarkFilled()
	}
	if row[18] != "" {
		rec.MarkSettled()
	}
	return rec, nil
}
