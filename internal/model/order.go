package model

import "time"

// OrderType is the side of a simulated order.
type OrderType string

const (
	OrderBuy  OrderType = "buy"
	OrderSell OrderType = "sell"
)

// OrderEvent is one fired trigger in a session's order log.
type OrderEvent struct {
	Type  OrderType `json:"type"`
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// TradeRecord is a finalized ledger entry. ID is assigned by the ledger.
type TradeRecord struct {
	ID         int64   `json:"id"`
	BuyPrice   float64 `json:"buy_price"`
	SellPrice  float64 `json:"sell_price"`
	ProfitLoss float64 `json:"profit_loss"`
}
