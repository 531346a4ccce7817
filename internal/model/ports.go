package model

import "context"

// ── Port Interfaces ──
// These decouple the simulator from concrete storage and market-data
// implementations (SQLite, Redis, in-memory, Binance REST, file replay).

// TradeLedger is the append-only store of finalized trades.
type TradeLedger interface {
	// Append stores rec and returns its id. The id is unique and strictly
	// greater than every id returned before it. The record is durable
	// when Append returns nil.
	Append(ctx context.Context, rec TradeRecord) (int64, error)

	// ListAll returns every record in insertion order.
	ListAll(ctx context.Context) ([]TradeRecord, error)

	// Close releases underlying resources.
	Close() error
}

// CandleSource supplies raw klines for an instrument.
type CandleSource interface {
	// Klines returns up to limit raw records, oldest first.
	Klines(ctx context.Context, symbol, interval string, limit int) ([]RawCandle, error)
}
