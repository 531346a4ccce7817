package indicator

import (
	"math"
	"time"

	"bandsim/internal/model"
)

// Bands tracks the moving average and sample standard deviation of closes
// over a rolling window. It keeps the window in a preallocated circular
// buffer and recomputes mean and deviation from it on every update, oldest
// value first, so its output matches a from-scratch windowed computation.
type Bands struct {
	period int
	buf    []float64 // preallocated circular buffer
	idx    int       // next write position, also the oldest value once full
	count  int       // total values received
	last   time.Time

	ma  float64
	std float64
}

// NewBands creates a band tracker for the given window. period must be >= 2.
func NewBands(period int) *Bands {
	return &Bands{
		period: period,
		buf:    make([]float64, period),
	}
}

// Update feeds the next candle.
func (b *Bands) Update(candle model.Candle) {
	b.buf[b.idx] = candle.Close
	b.idx = (b.idx + 1) % b.period
	b.count++
	b.last = candle.OpenTime

	if b.Ready() {
		b.ma, b.std = b.meanStd()
	}
}

// Ready returns true once a full window has been seen.
func (b *Bands) Ready() bool { return b.count >= b.period }

// Point returns the band for the most recent candle.
func (b *Bands) Point() model.IndicatorPoint {
	if !b.Ready() {
		return model.IndicatorPoint{Time: b.last}
	}
	return model.IndicatorPoint{
		Time:  b.last,
		MA:    b.ma,
		Std:   b.std,
		Upper: b.ma + Multiplier*b.std,
		Lower: b.ma - Multiplier*b.std,
		Valid: true,
	}
}

// Reset clears the tracker for reuse.
func (b *Bands) Reset() {
	b.idx = 0
	b.count = 0
	b.ma = 0
	b.std = 0
	b.last = time.Time{}
	for i := range b.buf {
		b.buf[i] = 0
	}
}

// meanStd walks the full buffer from oldest to newest.
func (b *Bands) meanStd() (float64, float64) {
	n := b.period
	var sum float64
	for i := 0; i < n; i++ {
		sum += b.buf[(b.idx+i)%n]
	}
	mean := sum / float64(n)

	var sq float64
	for i := 0; i < n; i++ {
		d := b.buf[(b.idx+i)%n] - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(n-1))
}
