package journal

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/avollmer/openrange/internal/models"
)

// SQLite journals trades to an embedded database. One row per trading
// date; the dashboard reads history and stats through the same handle.
type SQLite struct {
	db         *sql.DB
	reportsDir string
}

var _ Interface = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database and runs migrations.
func OpenSQLite(path, reportsDir string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging journal db: %w", err)
	}
	s := &SQLite{db: db, reportsDir: reportsDir}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal db: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			date             TEXT PRIMARY KEY,
			setup            TEXT NOT NULL,
			trade_type       TEXT NOT NULL,
			trigger_time     TEXT NOT NULL,
			fill_time        TEXT,
			spx_entry        REAL NOT NULL,
			oro              REAL NOT NULL,
			orh              REAL NOT NULL,
			orl              REAL NOT NULL,
			orc              REAL NOT NULL,
			k_short          REAL NOT NULL,
			k_long           REAL NOT NULL,
			c_gross_fill     REAL,
			slippage         REAL,
			c_net_fill       REAL,
			qty              INTEGER,
			r_day            REAL,
			max_loss         REAL,
			spx_close        REAL,
			settlement_value REAL,
			pnl_per_spread   REAL,
			total_pnl        REAL,
			equity_before    REAL,
			equity_after     REAL,
			order_id         TEXT,
			order_status     TEXT,
			filled           INTEGER NOT NULL DEFAULT 0,
			settled          INTEGER NOT NULL DEFAULT 0
		);
	`)
	return err
}

// UpsertTrade writes the record for its date, replacing earlier phases
// of the same day.
func (s *SQLite) UpsertTrade(rec *models.TradeRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO trades (
			date, setup, trade_type, trigger_time, fill_time,
			spx_entry, oro, orh, orl, orc, k_short, k_long,
			c_gross_fill, slippage, c_net_fill, qty, r_day, max_loss,
			spx_close, settlement_value, pnl_per_spread, total_pnl,
			equity_before, equity_after, order_id, order_status, filled, settled
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(date) DO UPDATE SET
			setup=excluded.setup, trade_type=excluded.trade_type,
			trigger_time=excluded.trigger_time, fill_time=excluded.fill_time,
			spx_entry=excluded.spx_entry, oro=excluded.oro, orh=excluded.orh,
			orl=excluded.orl, orc=excluded.orc, k_short=excluded.k_short,
			k_long=excluded.k_long, c_gross_fill=excluded.c_gross_fill,
			slippage=excluded.slippage, c_net_fill=excluded.c_net_fill,
			qty=excluded.qty, r_day=excluded.r_day, max_loss=excluded.max_loss,
			spx_close=excluded.spx_close, settlement_value=excluded.settlement_value,
			pnl_per_spread=excluded.pnl_per_spread, total_pnl=excluded.total_pnl,
			equity_before=excluded.equity_before, equity_after=excluded.equity_after,
			order_id=excluded.order_id, order_status=excluded.order_status,
			filled=excluded.filled, settled=excluded.settled`,
		rec.Date, string(rec.Setup), string(rec.TradeType), rec.TriggerTime, rec.FillTime,
		rec.SPXEntry, rec.ORO, rec.ORH, rec.ORL, rec.ORC, rec.KShort, rec.KLong,
		rec.CGrossFill, rec.Slippage, rec.CNetFill, rec.Qty, rec.RDay, rec.MaxLossPerSpread,
		rec.SPXClose, rec.SettlementValue, rec.PnLPerSpread, rec.TotalPnL,
		rec.EquityBefore, rec.EquityAfter, rec.OrderID, rec.OrderStatus,
		boolInt(rec.Filled()), boolInt(rec.Settled()))
	if err != nil {
		return fmt.Errorf("upserting trade for %s: %w", rec.Date, err)
	}
	return nil
}

const selectColumns = `date, setup, trade_type, trigger_time, fill_time,
	spx_entry, oro, orh, orl, orc, k_short, k_long,
	c_gross_fill, slippage, c_net_fill, qty, r_day, max_loss,
	spx_close, settlement_value, pnl_per_spread, total_pnl,
	equity_before, equity_after, order_id, order_status, filled, settled`

// TradeByDate returns the row for a YYYY-MM-DD date.
func (s *SQLite) TradeByDate(date string) (*models.TradeRecord, bool, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM trades WHERE date = ?`, date)
	rec, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading trade for %s: %w", date, err)
	}
	return rec, true, nil
}

// Trades returns every row, oldest first.
func (s *SQLite) Trades() ([]models.TradeRecord, error) {
	rows, err := s.db.Query(`SELECT ` + selectColumns + ` FROM trades ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("listing trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Stats aggregates settled trades in SQL.
func (s *SQLite) Stats() (*Stats, error) {
	st := &Stats{}
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN total_pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN total_pnl <= 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(total_pnl), 0)
		FROM trades WHERE settled = 1`).
		Scan(&st.TotalTrades, &st.Wins, &st.Losses, &st.TotalPnL)
	if err != nil {
		return nil, fmt.Errorf("aggregating stats: %w", err)
	}
	if st.TotalTrades > 0 {
		st.WinRate = float64(st.Wins) / float64(st.TotalTrades)
		st.AveragePnL = st.TotalPnL / float64(st.TotalTrades)
	}
	return st, nil
}

// PersistReport writes a report artifact under the reports directory.
func (s *SQLite) PersistReport(name string, payload []byte) (string, error) {
	return writeReport(s.reportsDir, name, payload)
}

// Close closes the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*models.TradeRecord, error) {
	var rec models.TradeRecord
	var setup, tradeType string
	var filled, settled int
	err := row.Scan(
		&rec.Date, &setup, &tradeType, &rec.TriggerTime, &rec.FillTime,
		&rec.SPXEntry, &rec.ORO, &rec.ORH, &rec.ORL, &rec.ORC, &rec.KShort, &rec.KLong,
		&rec.CGrossFill, &rec.Slippage, &rec.CNetFill, &rec.Qty, &rec.RDay, &rec.MaxLossPerSpread,
		&rec.SPXClose, &rec.SettlementValue, &rec.PnLPerSpread, &rec.TotalPnL,
		&rec.EquityBefore, &rec.EquityAfter, &rec.OrderID, &rec.OrderStatus, &filled, &settled)
	if err != nil {
		return nil, err
	}
	rec.Setup = models.Setup(setup)
	rec.TradeType = models.TradeType(tradeType)
	if filled != 0 {
		rec.MarkFilled()
	}
	if settled != 0 {
		rec.MarkSettled()
	}
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
