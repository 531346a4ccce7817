// Package strategy turns the latest candle and its band into advisory signals.
//
// Signals are advisory only. They never move the simulator; the user's trigger
// prices do that.
package strategy

import (
	"fmt"
	"time"

	"bandsim/internal/model"
)

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Signal is an advisory band-touch signal for the latest candle.
type Signal struct {
	Action Action    `json:"action"`
	Close  float64   `json:"close"`
	Band   float64   `json:"band"` // the band that was touched
	Time   time.Time `json:"time"`
	Reason string    `json:"reason"`
}

// Detect compares c against its aligned band point.
// An undefined point yields no signal. A collapsed band (upper <= lower)
// can yield both signals at once.
func Detect(c model.Candle, p model.IndicatorPoint) []Signal {
	if !p.Valid {
		return nil
	}

	var out []Signal
	if c.Close <= p.Lower {
		out = append(out, Signal{
			Action: ActionBuy,
			Close:  c.Close,
			Band:   p.Lower,
			Time:   c.OpenTime,
			Reason: fmt.Sprintf("close %.8g at or below lower band %.8g", c.Close, p.Lower),
		})
	}
	if c.Close >= p.Upper {
		out = append(out, Signal{
			Action: ActionSell,
			Close:  c.Close,
			Band:   p.Upper,
			Time:   c.OpenTime,
			Reason: fmt.Sprintf("close %.8g at or above upper band %.8g", c.Close, p.Upper),
		})
	}
	return out
}

// Has reports whether sigs contains action.
func Has(sigs []Signal, action Action) bool {
	for _, s := range sigs {
		if s.Action == action {
			return true
		}
	}
	return false
}
