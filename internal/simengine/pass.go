package simengine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"bandsim/internal/execution"
	"bandsim/internal/gateway"
	"bandsim/internal/indicator"
	"bandsim/internal/logger"
	"bandsim/internal/model"
	"bandsim/internal/normalize"
	"bandsim/internal/notification"
	"bandsim/internal/strategy"
)

// PassResult is everything one evaluation pass produced, shaped for the
// dashboard: the candle batch with its aligned band, the advisory signals on
// the latest candle and the simulator's transition and resulting state.
type PassResult struct {
	Kind       string                 `json:"kind"` // always "pass"
	SessionID  string                 `json:"session_id"`
	Market     Market                 `json:"market"`
	Quote      string                 `json:"quote"`
	Candles    []model.Candle         `json:"candles"`
	Points     []model.IndicatorPoint `json:"points"`
	Latest     model.Candle           `json:"latest"`
	Band       model.IndicatorPoint   `json:"band"`
	Signals    []strategy.Signal      `json:"signals"`
	Transition execution.Transition   `json:"transition"`
	State      execution.Snapshot     `json:"state"`
}

// Evaluate runs one pass for a session: fetch, normalize, compute the band,
// detect signals on the latest candle, then apply triggers against its close.
// Any failure leaves the session exactly as it was.
func (svc *Service) Evaluate(ctx context.Context, id string, t Triggers) (*PassResult, error) {
	e, err := svc.lookup(id)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithSessionID(ctx, id)

	e.passMu.Lock()
	defer e.passMu.Unlock()

	start := time.Now()
	res, err := svc.runPass(ctx, e, t)
	if svc.prom != nil {
		svc.prom.PassDur.Observe(time.Since(start).Seconds())
		svc.prom.PassesTotal.WithLabelValues(outcome(err)).Inc()
	}
	if err != nil {
		slog.Warn("pass failed", append(logger.LogWithSession(ctx), "error", err)...)
		return nil, err
	}

	svc.publishPass(ctx, e, res)
	return res, nil
}

func (svc *Service) runPass(ctx context.Context, e *sessionEntry, t Triggers) (*PassResult, error) {
	m := e.market

	raw, err := svc.source.Klines(ctx, m.Symbol, m.Interval, m.Lookback)
	if svc.health != nil {
		svc.health.RecordPass(err == nil, time.Now())
	}
	if err != nil {
		return nil, &SourceError{Symbol: m.Symbol, Interval: m.Interval, Err: err}
	}

	candles, err := normalize.Normalize(raw)
	if err != nil {
		return nil, err
	}
	points := indicator.Compute(candles, m.Window)
	last, band, _ := indicator.Latest(candles, points)
	sigs := strategy.Detect(last, band)

	tr, err := e.sess.Evaluate(execution.Cycle{
		BuyTrigger:  t.Buy,
		SellTrigger: t.Sell,
		LastClose:   last.Close,
		LastTime:    last.OpenTime,
	})
	if err != nil {
		return nil, err
	}

	return &PassResult{
		Kind:       "pass",
		SessionID:  e.sess.ID(),
		Market:     m,
		Quote:      notification.QuoteAsset(m.Symbol),
		Candles:    candles,
		Points:     points,
		Latest:     last,
		Band:       band,
		Signals:    sigs,
		Transition: tr,
		State:      e.sess.Snapshot(),
	}, nil
}

// publishPass fans a successful pass out to metrics, notifiers and the hub.
func (svc *Service) publishPass(ctx context.Context, e *sessionEntry, res *PassResult) {
	id, symbol := res.SessionID, res.Market.Symbol

	if svc.prom != nil {
		for action, n := range signalCounts(res.Signals) {
			svc.prom.SignalsTotal.WithLabelValues(strings.ToLower(string(action))).Add(float64(n))
		}
		for _, ev := range res.Transition.Events {
			svc.prom.OrderEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		}
	}

	for _, sig := range res.Signals {
		svc.notify(ctx, notification.SignalAlert(id, symbol, sig))
	}
	for _, ev := range res.Transition.Events {
		svc.notify(ctx, notification.OrderAlert(id, symbol, ev))
	}
	if res.Transition.Changed() {
		slog.Info("position changed", append(logger.LogWithSession(ctx),
			"from", res.Transition.From, "to", res.Transition.To, "events", len(res.Transition.Events))...)
	}

	if svc.hub != nil {
		svc.hub.Publish(gateway.SessionChannel(id), res)
	}
}
