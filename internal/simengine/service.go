// Package simengine runs band-simulator sessions: it fetches candles, derives
// the band and its signals, drives each session's trade simulator and
// finalizes sessions into the shared trade ledger.
package simengine

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bandsim/internal/execution"
	"bandsim/internal/gateway"
	"bandsim/internal/indicator"
	"bandsim/internal/logger"
	"bandsim/internal/metrics"
	"bandsim/internal/model"
	"bandsim/internal/normalize"
	"bandsim/internal/notification"
	"bandsim/internal/strategy"

	"github.com/google/uuid"
)

// Market selects the instrument and chart settings of a session.
type Market struct {
	Symbol   string `json:"symbol" validate:"oneof=BTCUSDT ETHUSDT DOGEUSDT"`
	Interval string `json:"interval" validate:"oneof=1m 5m 15m 1h 1d"`
	Lookback int    `json:"lookback" validate:"oneof=5 10 20 50 100 150 200"`
	Window   int    `json:"window" validate:"gte=2,lte=200"`
}

// Triggers are the user's buy and sell prices for one pass; 0 is inactive.
// Negative or non-finite values are rejected by the simulator.
type Triggers struct {
	Buy  float64 `json:"buy_trigger"`
	Sell float64 `json:"sell_trigger"`
}

// Deps are the collaborators of a Service. Source and Ledger are required;
// the rest may be nil.
type Deps struct {
	Source   model.CandleSource
	Ledger   model.TradeLedger
	Notifier notification.Notifier
	Hub      *gateway.Hub
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
}

// Service owns the session registry. Sessions never share state; the ledger
// is the only resource they have in common.
type Service struct {
	defaults Market

	source   model.CandleSource
	ledger   model.TradeLedger
	notifier notification.Notifier
	hub      *gateway.Hub
	prom     *metrics.Metrics
	health   *metrics.HealthStatus

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	// passMu serializes passes and finalizes on one session so each pass's
	// notifications and broadcast match the state it produced.
	passMu  sync.Mutex
	sess    *execution.Session
	market  Market
	created time.Time
}

// FinalizeEvent is broadcast on a session's channel after a finalize.
type FinalizeEvent struct {
	Kind      string             `json:"kind"` // always "finalized"
	SessionID string             `json:"session_id"`
	Trade     model.TradeRecord  `json:"trade"`
	State     execution.Snapshot `json:"state"`
}

// SessionView is the read model of one session.
type SessionView struct {
	Market
	Quote     string             `json:"quote"`
	CreatedAt time.Time          `json:"created_at"`
	State     execution.Snapshot `json:"state"`
}

// New creates a Service. defaults fills any Market field a new session
// leaves empty.
func New(defaults Market, deps Deps) *Service {
	if defaults.Window == 0 {
		defaults.Window = indicator.DefaultWindow
	}
	svc := &Service{
		defaults: defaults,
		source:   deps.Source,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		hub:      deps.Hub,
		prom:     deps.Metrics,
		health:   deps.Health,
		sessions: make(map[string]*sessionEntry),
	}
	if svc.notifier == nil {
		svc.notifier = notification.NewLogNotifier()
	}
	if svc.prom != nil {
		svc.ledger = timedLedger{TradeLedger: deps.Ledger, prom: deps.Metrics}
	}
	return svc
}

// WithDefaults fills zero fields of m from the service defaults.
func (svc *Service) WithDefaults(m Market) Market {
	if m.Symbol == "" {
		m.Symbol = svc.defaults.Symbol
	}
	if m.Interval == "" {
		m.Interval = svc.defaults.Interval
	}
	if m.Lookback == 0 {
		m.Lookback = svc.defaults.Lookback
	}
	if m.Window == 0 {
		m.Window = svc.defaults.Window
	}
	return m
}

// CreateSession registers a flat session with an empty order log.
func (svc *Service) CreateSession(m Market) SessionView {
	m = svc.WithDefaults(m)
	id := uuid.NewString()
	e := &sessionEntry{
		sess:    execution.NewSession(id),
		market:  m,
		created: time.Now().UTC(),
	}

	svc.mu.Lock()
	svc.sessions[id] = e
	n := len(svc.sessions)
	svc.mu.Unlock()

	if svc.prom != nil {
		svc.prom.OpenSessions.Set(float64(n))
	}
	slog.Info("session created", "session_id", id, "symbol", m.Symbol, "interval", m.Interval)
	return e.view()
}

// Session returns the current view of a session.
func (svc *Service) Session(id string) (SessionView, error) {
	e, err := svc.lookup(id)
	if err != nil {
		return SessionView{}, err
	}
	return e.view(), nil
}

// Sessions lists all sessions, oldest first.
func (svc *Service) Sessions() []SessionView {
	svc.mu.RLock()
	out := make([]SessionView, 0, len(svc.sessions))
	for _, e := range svc.sessions {
		out = append(out, e.view())
	}
	svc.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CloseSession drops a session. Unfinalized orders are discarded.
func (svc *Service) CloseSession(id string) error {
	svc.mu.Lock()
	_, ok := svc.sessions[id]
	delete(svc.sessions, id)
	n := len(svc.sessions)
	svc.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if svc.prom != nil {
		svc.prom.OpenSessions.Set(float64(n))
	}
	slog.Info("session closed", "session_id", id)
	return nil
}

// Finalize writes the session's result to the ledger and resets it. A nil
// record with a nil error means the session had no orders.
func (svc *Service) Finalize(ctx context.Context, id string) (*model.TradeRecord, error) {
	e, err := svc.lookup(id)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithSessionID(ctx, id)

	e.passMu.Lock()
	defer e.passMu.Unlock()

	rec, err := e.sess.Finalize(ctx, svc.ledger)
	if err != nil {
		var lwe *execution.LedgerWriteError
		if errors.As(err, &lwe) {
			slog.Error("finalize failed, session kept for retry", append(logger.LogWithSession(ctx), "error", err)...)
			svc.notify(ctx, notification.LedgerFailureAlert(id, err))
		}
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	if svc.prom != nil {
		svc.prom.FinalizesTotal.Inc()
	}
	slog.Info("session finalized", append(logger.LogWithSession(ctx),
		"trade_id", rec.ID, "buy_price", rec.BuyPrice, "sell_price", rec.SellPrice, "profit_loss", rec.ProfitLoss)...)
	svc.notify(ctx, notification.TradeAlert(id, e.market.Symbol, *rec))
	if svc.hub != nil {
		svc.hub.Publish(gateway.TradesChannel, rec)
		svc.hub.Publish(gateway.SessionChannel(id), FinalizeEvent{
			Kind:      "finalized",
			SessionID: id,
			Trade:     *rec,
			State:     e.sess.Snapshot(),
		})
	}
	return rec, nil
}

// Trades lists every ledger record in insertion order.
func (svc *Service) Trades(ctx context.Context) ([]model.TradeRecord, error) {
	return svc.ledger.ListAll(ctx)
}

func (svc *Service) lookup(id string) (*sessionEntry, error) {
	svc.mu.RLock()
	e, ok := svc.sessions[id]
	svc.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (svc *Service) notify(ctx context.Context, a notification.Alert) {
	if err := svc.notifier.Send(ctx, a); err != nil {
		log.Printf("[simengine] notify %q: %v", a.Title, err)
	}
}

func (e *sessionEntry) view() SessionView {
	return SessionView{
		Market:    e.market,
		Quote:     notification.QuoteAsset(e.market.Symbol),
		CreatedAt: e.created,
		State:     e.sess.Snapshot(),
	}
}

// outcome labels a failed pass for metrics.
func outcome(err error) string {
	var (
		srcErr  *SourceError
		malErr  *normalize.MalformedCandleError
		ordErr  *normalize.OrderingError
		trigErr *execution.InvalidTriggerError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &srcErr):
		return "source_error"
	case errors.As(err, &malErr), errors.As(err, &ordErr):
		return "malformed"
	case errors.As(err, &trigErr):
		return "invalid_trigger"
	default:
		return "error"
	}
}

// signalCounts tallies signals for metrics.
func signalCounts(sigs []strategy.Signal) map[strategy.Action]int {
	out := make(map[strategy.Action]int, 2)
	for _, s := range sigs {
		out[s.Action]++
	}
	return out
}
