package model

import (
	"time"
)

// RawCandle is one kline record as returned by the market-data provider:
// [open_time_ms, open, high, low, close, volume, close_time_ms, ...].
// Numeric fields may arrive as JSON strings or JSON numbers.
type RawCandle []any

// Candle is a normalized OHLC bar. Times are UTC, OpenTime < CloseTime.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IndicatorPoint is the band value aligned with one candle.
// Valid is false until the rolling window is full.
type IndicatorPoint struct {
	Time  time.Time `json:"time"`
	MA    float64   `json:"ma"`
	Std   float64   `json:"std"`
	Upper float64   `json:"upper"`
	Lower float64   `json:"lower"`
	Valid bool      `json:"valid"`
}
