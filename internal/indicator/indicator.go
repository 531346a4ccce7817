// Package indicator computes the rolling Bollinger-style band over candle data.
//
// The band is the moving average of closes ± Multiplier sample standard
// deviations over a fixed window. Compute recomputes the whole series from a
// candle batch; Bands is the streaming form it is built on.
package indicator

import "bandsim/internal/model"

const (
	// DefaultWindow is the rolling window length used when none is configured.
	DefaultWindow = 20

	// Multiplier is the band width in standard deviations.
	Multiplier = 2.0
)

// Compute returns one IndicatorPoint per candle. The first window-1 points,
// and every point when window > len(candles) or window < 2, are undefined.
// Calling Compute twice on the same input yields identical output.
func Compute(candles []model.Candle, window int) []model.IndicatorPoint {
	points := make([]model.IndicatorPoint, len(candles))
	if window < 2 || window > len(candles) {
		for i, c := range candles {
			points[i] = model.IndicatorPoint{Time: c.OpenTime}
		}
		return points
	}

	b := NewBands(window)
	for i, c := range candles {
		b.Update(c)
		points[i] = b.Point()
	}
	return points
}

// Latest returns the last candle and its aligned point. ok is false for an
// empty batch.
func Latest(candles []model.Candle, points []model.IndicatorPoint) (model.Candle, model.IndicatorPoint, bool) {
	n := len(candles)
	if n == 0 || len(points) != n {
		return model.Candle{}, model.IndicatorPoint{}, false
	}
	return candles[n-1], points[n-1], true
}
