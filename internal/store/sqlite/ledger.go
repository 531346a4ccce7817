// Package sqlite persists the trade ledger to a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"bandsim/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		buy_price   REAL    NOT NULL,
		sell_price  REAL    NOT NULL,
		profit_loss REAL    NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
`

// LedgerConfig configures the SQLite ledger.
type LedgerConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/ledger.db"
}

// Ledger is an append-only trade ledger. Writes go through a single
// connection under a mutex and an IMMEDIATE transaction, so ids stay unique
// and strictly increasing even with other processes on the same file.
// Reads use a separate pool and do not wait for the writer lock.
type Ledger struct {
	mu     sync.Mutex
	writer *sql.DB
	reader *sql.DB
}

// DB returns the writer sql.DB for health checks.
func (l *Ledger) DB() *sql.DB { return l.writer }

// NewLedger opens (or creates) the ledger database in WAL mode, creating
// its parent directory if needed.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir %s: %w", dir, err)
		}
	}

	writer, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	if _, err := writer.Exec(schema); err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	reader, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	reader.SetMaxOpenConns(2)
	reader.SetMaxIdleConns(2)

	log.Printf("[sqlite] opened trade ledger at %s", cfg.DBPath)
	return &Ledger{writer: writer, reader: reader}, nil
}

// Append inserts rec and returns the id SQLite assigned to it.
func (l *Ledger) Append(ctx context.Context, rec model.TradeRecord) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO trades (buy_price, sell_price, profit_loss) VALUES (?, ?, ?)`,
		rec.BuyPrice, rec.SellPrice, rec.ProfitLoss,
	)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite insert trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	return id, nil
}

// ListAll returns every trade ordered by id, which is insertion order.
func (l *Ledger) ListAll(ctx context.Context) ([]model.TradeRecord, error) {
	rows, err := l.reader.QueryContext(ctx,
		`SELECT id, buy_price, sell_price, profit_loss FROM trades ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]model.TradeRecord, 0, 32)
	for rows.Next() {
		var t model.TradeRecord
		if err := rows.Scan(&t.ID, &t.BuyPrice, &t.SellPrice, &t.ProfitLoss); err != nil {
			return nil, fmt.Errorf("sqlite scan trades: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes both connection pools.
func (l *Ledger) Close() error {
	rerr := l.reader.Close()
	if err := l.writer.Close(); err != nil {
		return err
	}
	return rerr
}
