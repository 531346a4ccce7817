package simengine

import (
	"context"
	"time"

	"bandsim/internal/metrics"
	"bandsim/internal/model"
)

// timedLedger records append latency and failures.
type timedLedger struct {
	model.TradeLedger
	prom *metrics.Metrics
}

func (l timedLedger) Append(ctx context.Context, rec model.TradeRecord) (int64, error) {
	start := time.Now()
	id, err := l.TradeLedger.Append(ctx, rec)
	l.prom.LedgerAppendDur.Observe(time.Since(start).Seconds())
	if err != nil {
		l.prom.LedgerWriteFailures.Inc()
	}
	return id, err
}
