package simengine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"bandsim/internal/gateway"
	"bandsim/internal/metrics"
	"bandsim/internal/model"
	"bandsim/internal/notification"
	"bandsim/internal/store/memory"

	"github.com/prometheus/client_golang/prometheus"
)

const baseOpenMs = int64(1700000000000)

// fakeSource serves klines built from a list of closes.
type fakeSource struct {
	mu     sync.Mutex
	closes []float64
	raw    []model.RawCandle // overrides closes when set
	err    error
	calls  int
}

func (f *fakeSource) set(closes ...float64) {
	f.mu.Lock()
	f.closes, f.raw, f.err = closes, nil, nil
	f.mu.Unlock()
}

func (f *fakeSource) Klines(_ context.Context, _, _ string, limit int) ([]model.RawCandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.raw != nil {
		return f.raw, nil
	}
	closes := f.closes
	if len(closes) > limit {
		closes = closes[len(closes)-limit:]
	}
	return klines(closes...), nil
}

func klines(closes ...float64) []model.RawCandle {
	out := make([]model.RawCandle, len(closes))
	for i, c := range closes {
		open := baseOpenMs + int64(i)*60_000
		px := strconv.FormatFloat(c, 'f', -1, 64)
		out[i] = model.RawCandle{float64(open), px, px, px, px, "1.0", float64(open + 59_999)}
	}
	return out
}

// repeat returns n copies of v followed by tail.
func repeat(v float64, n int, tail ...float64) []float64 {
	out := make([]float64, 0, n+len(tail))
	for i := 0; i < n; i++ {
		out = append(out, v)
	}
	return append(out, tail...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (r *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Title
	}
	return out
}

type failingLedger struct{ memory.Ledger }

func (failingLedger) Append(context.Context, model.TradeRecord) (int64, error) {
	return 0, errors.New("disk full")
}

type fixture struct {
	svc    *Service
	src    *fakeSource
	ledger model.TradeLedger
	notes  *recordingNotifier
	hub    *gateway.Hub
	prom   *metrics.Metrics
}

func newFixture(t *testing.T, ledger model.TradeLedger) *fixture {
	t.Helper()
	if ledger == nil {
		ledger = memory.NewLedger()
	}
	f := &fixture{
		src:    &fakeSource{},
		ledger: ledger,
		notes:  &recordingNotifier{},
		hub:    gateway.NewHub(),
		prom:   metrics.NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = New(Market{Symbol: "BTCUSDT", Interval: "1m", Lookback: 100, Window: 20}, Deps{
		Source:   f.src,
		Ledger:   ledger,
		Notifier: f.notes,
		Hub:      f.hub,
		Metrics:  f.prom,
		Health:   metrics.NewHealthStatus("memory"),
	})
	return f
}
