package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"bandsim/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultKeyPrefix    = "bandsim"
	defaultMaxFailures  = 5
	defaultResetTimeout = 10 * time.Second
)

// appendScript assigns the next id and records the trade atomically, so
// concurrent appenders from any number of processes see strictly increasing
// ids in list order.
//
// KEYS[1] = sequence key, KEYS[2] = id list key
// ARGV[1] = hash key prefix, ARGV[2..4] = buy_price, sell_price, profit_loss
var appendScript = goredis.NewScript(`
local id = redis.call('INCR', KEYS[1])
redis.call('HSET', ARGV[1] .. id, 'buy_price', ARGV[2], 'sell_price', ARGV[3], 'profit_loss', ARGV[4])
redis.call('RPUSH', KEYS[2], id)
return id
`)

// LedgerConfig configures the Redis ledger.
type LedgerConfig struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	KeyPrefix string // namespace for all ledger keys, default "bandsim"

	MaxFailures  int           // consecutive failures before the breaker opens
	ResetTimeout time.Duration // wait before a half-open probe
}

// Ledger stores trades in Redis: one hash per trade plus an id list that
// preserves insertion order. Appends go through a circuit breaker so a dead
// Redis fails fast instead of stalling every finalize.
type Ledger struct {
	client  *goredis.Client
	breaker *CircuitBreaker

	seqKey   string
	listKey  string
	tradeKey string
}

// Client returns the underlying Redis client for health checks.
func (l *Ledger) Client() *goredis.Client { return l.client }

// Breaker exposes the circuit breaker so callers can observe state changes.
func (l *Ledger) Breaker() *CircuitBreaker { return l.breaker }

// NewLedger connects to Redis and pings the server.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = defaultResetTimeout
	}

	log.Printf("[redis] connected to %s (ledger prefix=%s)", cfg.Addr, prefix)
	return &Ledger{
		client:   client,
		breaker:  NewCircuitBreaker(maxFailures, resetTimeout),
		seqKey:   prefix + ":ledger:seq",
		listKey:  prefix + ":ledger:ids",
		tradeKey: prefix + ":ledger:trade:",
	}, nil
}

// Append records rec and returns its id.
func (l *Ledger) Append(ctx context.Context, rec model.TradeRecord) (int64, error) {
	var id int64
	err := l.breaker.Execute(func() error {
		var err error
		id, err = appendScript.Run(ctx, l.client,
			[]string{l.seqKey, l.listKey},
			l.tradeKey, formatFloat(rec.BuyPrice), formatFloat(rec.SellPrice), formatFloat(rec.ProfitLoss),
		).Int64()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("redis append trade: %w", err)
	}
	return id, nil
}

// ListAll reads the id list and fetches every trade hash in one pipeline.
func (l *Ledger) ListAll(ctx context.Context) ([]model.TradeRecord, error) {
	ids, err := l.client.LRange(ctx, l.listKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	if len(ids) == 0 {
		return []model.TradeRecord{}, nil
	}

	pipe := l.client.Pipeline()
	cmds := make([]*goredis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, l.tradeKey+id, "buy_price", "sell_price", "profit_loss")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis hmget trades: %w", err)
	}

	trades := make([]model.TradeRecord, 0, len(ids))
	for i, cmd := range cmds {
		rec, err := decodeTrade(ids[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		trades = append(trades, rec)
	}
	return trades, nil
}

// Close closes the Redis client.
func (l *Ledger) Close() error {
	return l.client.Close()
}

func decodeTrade(idStr string, vals []interface{}) (model.TradeRecord, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("redis trade id %q: %w", idStr, err)
	}
	rec := model.TradeRecord{ID: id}
	fields := []*float64{&rec.BuyPrice, &rec.SellPrice, &rec.ProfitLoss}
	for i, dst := range fields {
		s, ok := vals[i].(string)
		if !ok {
			return model.TradeRecord{}, fmt.Errorf("redis trade %d: missing field %d", id, i)
		}
		if *dst, err = strconv.ParseFloat(s, 64); err != nil {
			return model.TradeRecord{}, fmt.Errorf("redis trade %d: %w", id, err)
		}
	}
	return rec, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
