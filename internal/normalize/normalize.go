// Package normalize converts provider kline records into ordered, typed candles.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"bandsim/internal/model"

	"github.com/shopspring/decimal"
)

// Field positions inside a kline record.
const (
	idxOpenTime = iota
	idxOpen
	idxHigh
	idxLow
	idxClose
	idxVolume
	idxCloseTime

	minFields = idxCloseTime + 1
)

var priceFields = [...]struct {
	idx  int
	name string
}{
	{idxOpen, "open"},
	{idxHigh, "high"},
	{idxLow, "low"},
	{idxClose, "close"},
	{idxVolume, "volume"},
}

// Normalize parses raw records into candles, oldest first.
// The batch must be non-empty and strictly increasing in open time.
func Normalize(raw []model.RawCandle) ([]model.Candle, error) {
	if len(raw) == 0 {
		return nil, &MalformedCandleError{Index: -1, Reason: "empty batch"}
	}

	out := make([]model.Candle, 0, len(raw))
	var prevOpen int64
	for i, rec := range raw {
		c, openMs, err := parseRecord(i, rec)
		if err != nil {
			return nil, err
		}
		if i > 0 && openMs <= prevOpen {
			return nil, &OrderingError{Index: i, Prev: prevOpen, Curr: openMs}
		}
		prevOpen = openMs
		out = append(out, c)
	}
	return out, nil
}

func parseRecord(i int, rec model.RawCandle) (model.Candle, int64, error) {
	if len(rec) < minFields {
		return model.Candle{}, 0, &MalformedCandleError{
			Index:  i,
			Reason: fmt.Sprintf("expected at least %d fields, got %d", minFields, len(rec)),
		}
	}

	openMs, err := parseMillis(rec[idxOpenTime])
	if err != nil {
		return model.Candle{}, 0, &MalformedCandleError{Index: i, Field: "open_time", Reason: err.Error(), Err: err}
	}
	closeMs, err := parseMillis(rec[idxCloseTime])
	if err != nil {
		return model.Candle{}, 0, &MalformedCandleError{Index: i, Field: "close_time", Reason: err.Error(), Err: err}
	}
	if openMs >= closeMs {
		return model.Candle{}, 0, &MalformedCandleError{
			Index:  i,
			Field:  "close_time",
			Reason: fmt.Sprintf("close_time %d not after open_time %d", closeMs, openMs),
		}
	}

	var vals [minFields]float64
	for _, f := range priceFields {
		d, err := parseDecimal(rec[f.idx])
		if err != nil {
			return model.Candle{}, 0, &MalformedCandleError{Index: i, Field: f.name, Reason: err.Error(), Err: err}
		}
		v := d.InexactFloat64()
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return model.Candle{}, 0, &MalformedCandleError{
				Index:  i,
				Field:  f.name,
				Reason: fmt.Sprintf("value %v out of float64 range", rec[f.idx]),
			}
		}
		vals[f.idx] = v
	}

	return model.Candle{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
		Open:      vals[idxOpen],
		High:      vals[idxHigh],
		Low:       vals[idxLow],
		Close:     vals[idxClose],
		Volume:    vals[idxVolume],
	}, openMs, nil
}

// parseDecimal accepts the value shapes a JSON decoder can produce for a number.
func parseDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Decimal{}, fmt.Errorf("missing value")
	case string:
		return decimal.NewFromString(t)
	case json.Number:
		return decimal.NewFromString(t.String())
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Decimal{}, fmt.Errorf("non-finite value %v", t)
		}
		return decimal.NewFromFloat(t), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported type %T", v)
	}
}

func parseMillis(v any) (int64, error) {
	d, err := parseDecimal(v)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("timestamp %s is not whole milliseconds", d.String())
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative timestamp %s", d.String())
	}
	if d.GreaterThan(maxMillis) {
		return 0, fmt.Errorf("timestamp %s out of range", d.String())
	}
	return d.IntPart(), nil
}

var maxMillis = decimal.NewFromInt(math.MaxInt64)
