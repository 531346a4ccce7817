// Package execution simulates a single-position trade session.
//
// A Session moves between Flat and Long as the user's buy/sell trigger prices
// are hit by the latest close. Fired triggers are kept in an order log from
// which realized P&L is derived; Finalize persists the session's result to a
// trade ledger and starts a fresh round.
package execution

import (
	"context"
	"math"
	"sync"
	"time"

	"bandsim/internal/model"
)

// Cycle is the input of one evaluation pass. A trigger of 0 is inactive.
type Cycle struct {
	BuyTrigger  float64
	SellTrigger float64
	LastClose   float64
	LastTime    time.Time
}

// Transition describes what one Evaluate call changed.
type Transition struct {
	From   model.PositionState `json:"from"`
	To     model.PositionState `json:"to"`
	Events []model.OrderEvent  `json:"events,omitempty"`
}

// Changed reports whether any order fired.
func (t Transition) Changed() bool { return len(t.Events) > 0 }

// Snapshot is a read-only copy of session state with derived P&L figures.
type Snapshot struct {
	ID            string             `json:"id"`
	Position      model.Position     `json:"position"`
	Orders        []model.OrderEvent `json:"orders"`
	LastClose     float64            `json:"last_close"`
	LastTime      time.Time          `json:"last_time"`
	RealizedPnL   float64            `json:"realized_pnl"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	TotalPnL      float64            `json:"total_pnl"`
}

// Session holds one user's simulated position and order log.
// Sessions share nothing; each evaluation pass mutates only its own session.
type Session struct {
	mu sync.RWMutex

	id        string
	position  model.Position
	orders    []model.OrderEvent
	lastClose float64
	lastTime  time.Time
}

// NewSession creates a flat session with an empty order log.
func NewSession(id string) *Session {
	return &Session{
		id:       id,
		position: model.Position{State: model.Flat},
		orders:   make([]model.OrderEvent, 0, 16),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Evaluate applies one cycle. The buy rule is checked first (only from Flat),
// then the sell rule (only from Long), so a single cycle can open and close a
// position when sell_trigger <= last_close <= buy_trigger.
func (s *Session) Evaluate(in Cycle) (Transition, error) {
	if err := validate(in); err != nil {
		return Transition{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tr := Transition{From: s.position.State}
	s.lastClose = in.LastClose
	s.lastTime = in.LastTime

	if in.BuyTrigger > 0 && in.LastClose <= in.BuyTrigger && !s.position.IsLong() {
		ev := model.OrderEvent{Type: model.OrderBuy, Price: in.BuyTrigger, Time: in.LastTime}
		s.orders = append(s.orders, ev)
		s.position = model.Position{State: model.Long, EntryPrice: in.BuyTrigger, EntryTime: in.LastTime}
		tr.Events = append(tr.Events, ev)
	}

	if in.SellTrigger > 0 && in.LastClose >= in.SellTrigger && s.position.IsLong() {
		ev := model.OrderEvent{Type: model.OrderSell, Price: in.SellTrigger, Time: in.LastTime}
		s.orders = append(s.orders, ev)
		s.position = model.Position{State: model.Flat}
		tr.Events = append(tr.Events, ev)
	}

	tr.To = s.position.State
	return tr, nil
}

// Finalize writes the session result to ledger and resets the session.
// With an empty order log it does nothing and returns (nil, nil).
// If the ledger write fails the session is left unchanged.
func (s *Session) Finalize(ctx context.Context, ledger model.TradeLedger) (*model.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.orders) == 0 {
		return nil, nil
	}

	rec := model.TradeRecord{
		BuyPrice:   lastPrice(s.orders, model.OrderBuy),
		SellPrice:  lastPrice(s.orders, model.OrderSell),
		ProfitLoss: realized(s.orders),
	}
	id, err := ledger.Append(ctx, rec)
	if err != nil {
		return nil, &LedgerWriteError{Err: err}
	}
	rec.ID = id

	s.orders = s.orders[:0]
	s.position = model.Position{State: model.Flat}
	return &rec, nil
}

// Position returns the current position.
func (s *Session) Position() model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// Orders returns a copy of the order log.
func (s *Session) Orders() []model.OrderEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]model.OrderEvent, len(s.orders))
	copy(cp, s.orders)
	return cp
}

// RealizedPnL is Σ sell prices − Σ buy prices over the order log.
// An unmatched trailing buy counts only its cost.
func (s *Session) RealizedPnL() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return realized(s.orders)
}

// UnrealizedPnL is last_close − entry_price while Long, otherwise 0.
func (s *Session) UnrealizedPnL() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position.UnrealizedPnL(s.lastClose)
}

// TotalPnL is RealizedPnL − UnrealizedPnL. The unrealized component is
// subtracted, not added; callers wanting realized + unrealized must compute
// it from the two parts.
func (s *Session) TotalPnL() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return realized(s.orders) - s.position.UnrealizedPnL(s.lastClose)
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]model.OrderEvent, len(s.orders))
	copy(orders, s.orders)
	r := realized(s.orders)
	u := s.position.UnrealizedPnL(s.lastClose)
	return Snapshot{
		ID:            s.id,
		Position:      s.position,
		Orders:        orders,
		LastClose:     s.lastClose,
		LastTime:      s.lastTime,
		RealizedPnL:   r,
		UnrealizedPnL: u,
		TotalPnL:      r - u,
	}
}

func validate(in Cycle) error {
	for _, f := range [...]struct {
		name string
		v    float64
	}{
		{"buy_trigger", in.BuyTrigger},
		{"sell_trigger", in.SellTrigger},
		{"last_close", in.LastClose},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return &InvalidTriggerError{Field: f.name, Value: f.v}
		}
	}
	return nil
}

func realized(orders []model.OrderEvent) float64 {
	var pnl float64
	for _, o := range orders {
		switch o.Type {
		case model.OrderSell:
			pnl += o.Price
		case model.OrderBuy:
			pnl -= o.Price
		}
	}
	return pnl
}

func lastPrice(orders []model.OrderEvent, typ model.OrderType) float64 {
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].Type == typ {
			return orders[i].Price
		}
	}
	return 0
}
