package model

import "time"

// PositionState is either Flat or Long.
type PositionState string

const (
	Flat PositionState = "FLAT"
	Long PositionState = "LONG"
)

// Position is the simulator's single position slot.
// EntryPrice and EntryTime are meaningful only while State == Long.
type Position struct {
	State      PositionState `json:"state"`
	EntryPrice float64       `json:"entry_price,omitempty"`
	EntryTime  time.Time     `json:"entry_time,omitempty"`
}

// IsLong reports whether a position is open.
func (p *Position) IsLong() bool {
	return p.State == Long
}

// UnrealizedPnL returns mark-to-market P&L against lastClose, 0 when flat.
func (p *Position) UnrealizedPnL(lastClose float64) float64 {
	if !p.IsLong() {
		return 0
	}
	return lastClose - p.EntryPrice
}
