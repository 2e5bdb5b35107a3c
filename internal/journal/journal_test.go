package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avollmer/openrange/internal/models"
)

func triggeredRecord(date string) *models.TradeRecord {
	or := &models.OpeningRange{Open: 5430.0, High: 5437.5, Low: 5428.0, Close: 5433.7}
	trig := &models.Trigger{
		Setup:       models.SetupBullishOR,
		TradeType:   models.TradePut,
		SPXEntry:    5433.7,
		KShort:      5435,
		KLong:       5425,
		TriggerTime: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}
	day, _ := time.Parse(models.DateOnly, date)
	return models.NewTradeRecord(day, or, trig)
}

func filledRecord(date string) *models.TradeRecord {
	rec := triggeredRecord(date)
	rec.ApplyFill(models.Fill{
		FillTime:         time.Date(2026, 8, 24, 10, 0, 20, 0, time.UTC),
		CGross:           4.70,
		Slippage:         0.10,
		CNet:             4.60,
		Qty:              5,
		RDay:             3000,
		MaxLossPerSpread: 540,
		EquityBefore:     100000,
		OrderID:          "1004055538123",
		OrderStatus:      "WORKING",
	})
	return rec
}

func settledRecord(date string, totalPnL float64) *models.TradeRecord {
	rec := filledRecord(date)
	rec.ApplySettlement(models.Settlement{
		SPXClose:        5430.2,
		SettlementValue: 4.80,
		PnLPerSpread:    totalPnL / 5,
		TotalPnL:        totalPnL,
		EquityAfter:     100000 + totalPnL,
	})
	return rec
}

// backends under test share one suite.
func backends(t *testing.T) map[string]Interface {
	t.Helper()
	dir := t.TempDir()

	csvJ, err := NewCSV(filepath.Join(dir, "trades.csv"), filepath.Join(dir, "reports"))
	if err != nil {
		t.Fatalf("NewCSV() error: %v", err)
	}
	sqlJ, err := OpenSQLite(filepath.Join(dir, "trades.db"), filepath.Join(dir, "reports"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	t.Cleanup(func() { _ = sqlJ.Close() })

	return map[string]Interface{"csv": csvJ, "sqlite": sqlJ, "mock": NewMock()}
}

func TestUpsertIsOneRowPerDate(t *testing.T) {
	for name, j := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := j.UpsertTrade(triggeredRecord("2026-08-24")); err != nil {
				t.Fatalf("trigger-phase upsert: %v", err)
			}
			if err := j.UpsertTrade(filledRecord("2026-08-24")); err != nil {
				t.Fatalf("fill-phase upsert: %v", err)
			}
			if err := j.UpsertTrade(settledRecord("2026-08-24", -100)); err != nil {
				t.Fatalf("settlement-phase upsert: %v", err)
			}

			trades, err := j.Trades()
			if err != nil {
				t.Fatalf("Trades() error: %v", err)
			}
			if len(trades) != 1 {
				t.Fatalf("journal holds %d rows for one date, want 1", len(trades))
			}
			got := trades[0]
			if !got.Settled() || got.TotalPnL != -100 || got.Qty != 5 {
				t.Errorf("final row = %+v, want the settled phase", got)
			}
		})
	}
}

func TestTradeByDate(t *testing.T) {
	for name, j := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := j.UpsertTrade(settledRecord("2026-08-24", -100)); err != nil {
				t.Fatal(err)
			}

			rec, ok, err := j.TradeByDate("2026-08-24")
			if err != nil || !ok {
				t.Fatalf("TradeByDate() = %v, %v; want a hit", ok, err)
			}
			if rec.KShort != 5435 || rec.OrderID != "1004055538123" {
				t.Errorf("record = %+v, want journaled values back", rec)
			}

			if _, ok, err := j.TradeByDate("2026-08-25"); err != nil || ok {
				t.Errorf("TradeByDate(miss) = %v, %v; want no hit", ok, err)
			}
		})
	}
}

func TestStats(t *testing.T) {
	for name, j := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := j.UpsertTrade(settledRecord("2026-08-21", 2300)); err != nil {
				t.Fatal(err)
			}
			if err := j.UpsertTrade(settledRecord("2026-08-24", -100)); err != nil {
				t.Fatal(err)
			}
			// Unsettled day must not count.
			if err := j.UpsertTrade(filledRecord("2026-08-25")); err != nil {
				t.Fatal(err)
			}

			stats, err := j.Stats()
			if err != nil {
				t.Fatalf("Stats() error: %v", err)
			}
			if stats.TotalTrades != 2 || stats.Wins != 1 || stats.Losses != 1 {
				t.Errorf("stats = %+v, want 2 settled trades, 1 win, 1 loss", stats)
			}
			if stats.TotalPnL != 2200 || stats.WinRate != 0.5 || stats.AveragePnL != 1100 {
				t.Errorf("stats = %+v, want totals over settled trades only", stats)
			}
		})
	}
}

func TestCSVRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.csv")

	j, err := NewCSV(path, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.UpsertTrade(settledRecord("2026-08-24", -100)); err != nil {
		t.Fatal(err)
	}
	if err := j.UpsertTrade(triggeredRecord("2026-08-25")); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewCSV(path, dir)
	if err != nil {
		t.Fatalf("reopening journal: %v", err)
	}
	trades, err := reopened.Trades()
	if err != nil || len(trades) != 2 {
		t.Fatalf("Trades() after reopen = %d rows, %v; want 2", len(trades), err)
	}
	if !trades[0].Settled() || trades[0].TotalPnL != -100 {
		t.Errorf("settled row lost on round trip: %+v", trades[0])
	}
	if trades[1].Filled() || trades[1].Settled() {
		t.Errorf("trigger-phase row gained phases on round trip: %+v", trades[1])
	}
}

func TestCSVHeaderContract(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.csv")
	j, err := NewCSV(path, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.UpsertTrade(triggeredRecord("2026-08-24")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	wantHeader := "date,setup,trade_type,trigger_time,fill_time,SPX_entry,ORO,ORH,ORL,ORC," +
		"K_short,K_long,C_gross_fill,S,C_net_fill,qty,R_day,maxLossPerSpread," +
		"SPX_close,settlement_value,pnl_per_spread,total_pnl,equity_before,equity_after,order_id,order_status"
	if lines[0] != wantHeader {
		t.Errorf("header = %q\nwant %q", lines[0], wantHeader)
	}
	if len(lines) != 2 {
		t.Errorf("file has %d lines, want header + 1 row", len(lines))
	}
	if !strings.Contains(lines[1], "Bullish OR") || !strings.Contains(lines[1], "5433.70") {
		t.Errorf("row = %q, want serialized setup and entry", lines[1])
	}
}

func TestPersistReport(t *testing.T) {
	dir := t.TempDir()
	j, err := NewCSV(filepath.Join(dir, "trades.csv"), filepath.Join(dir, "reports"))
	if err != nil {
		t.Fatal(err)
	}

	path, err := j.PersistReport("eod_report_2026-08-24.txt", []byte("report body\n"))
	if err != nil {
		t.Fatalf("PersistReport() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading persisted report: %v", err)
	}
	if string(data) != "report body\n" {
		t.Errorf("report payload = %q", data)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	if _, err := New("csv", filepath.Join(dir, "t.csv"), dir); err != nil {
		t.Errorf("New(csv) error: %v", err)
	}
	j, err := New("sqlite", filepath.Join(dir, "t.db"), dir)
	if err != nil {
		t.Errorf("New(sqlite) error: %v", err)
	} else {
		_ = j.Close()
	}
	if _, err := New("parquet", "x", dir); err == nil {
		t.Error("New(parquet) should fail")
	}
}
