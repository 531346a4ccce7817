// Package notification delivers simulator alerts (band-touch signals, fired
// orders, finalized trades) to log, webhook and Telegram channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"bandsim/internal/model"
	"bandsim/internal/strategy"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level     AlertLevel `json:"level"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	SessionID string     `json:"session_id,omitempty"`
	Symbol    string     `json:"symbol,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// QuoteAsset returns the quote currency label of a symbol: its last four
// characters (BTCUSDT -> USDT), or the whole symbol when shorter.
func QuoteAsset(symbol string) string {
	if len(symbol) <= 4 {
		return symbol
	}
	return symbol[len(symbol)-4:]
}

// SignalAlert describes an advisory band touch.
func SignalAlert(sessionID, symbol string, sig strategy.Signal) Alert {
	band := "lower"
	if sig.Action == strategy.ActionSell {
		band = "upper"
	}
	return Alert{
		Level:     AlertWarning,
		Title:     fmt.Sprintf("Possible %s signal on %s", sig.Action, symbol),
		Message:   fmt.Sprintf("close %.8g is at or beyond the %s band %.8g", sig.Close, band, sig.Band),
		SessionID: sessionID,
		Symbol:    symbol,
	}
}

// OrderAlert describes a fired buy or sell trigger.
func OrderAlert(sessionID, symbol string, ev model.OrderEvent) Alert {
	verb := "Bought"
	if ev.Type == model.OrderSell {
		verb = "Sold"
	}
	return Alert{
		Level:     AlertInfo,
		Title:     fmt.Sprintf("%s %s at %.8g", verb, symbol, ev.Price),
		Message:   fmt.Sprintf("%s order at %.8g %s (%s)", ev.Type, ev.Price, QuoteAsset(symbol), ev.Time.UTC().Format("2006-01-02 15:04:05")),
		SessionID: sessionID,
		Symbol:    symbol,
	}
}

// TradeAlert describes a trade persisted to the ledger.
func TradeAlert(sessionID, symbol string, rec model.TradeRecord) Alert {
	return Alert{
		Level:     AlertInfo,
		Title:     fmt.Sprintf("Trade #%d recorded", rec.ID),
		Message:   fmt.Sprintf("buy %.8g, sell %.8g, profit/loss %.8g %s", rec.BuyPrice, rec.SellPrice, rec.ProfitLoss, QuoteAsset(symbol)),
		SessionID: sessionID,
		Symbol:    symbol,
	}
}

// LedgerFailureAlert reports a finalize that could not be persisted.
func LedgerFailureAlert(sessionID string, err error) Alert {
	return Alert{
		Level:     AlertCritical,
		Title:     "Trade ledger write failed",
		Message:   err.Error(),
		SessionID: sessionID,
	}
}

// LogNotifier writes alerts to the standard logger.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.SessionID != "" {
		log.Printf("[notify] [%s] [%s] %s: %s", alert.Level, alert.SessionID, alert.Title, alert.Message)
		return nil
	}
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all of its notifiers. A failing notifier does
// not stop the others; their errors are joined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MinLevel drops alerts below a severity before passing them on.
type MinLevel struct {
	Level AlertLevel
	Next  Notifier
}

func (m MinLevel) Send(ctx context.Context, alert Alert) error {
	if rank(alert.Level) < rank(m.Level) {
		return nil
	}
	return m.Next.Send(ctx, alert)
}

func rank(l AlertLevel) int {
	switch AlertLevel(strings.ToUpper(string(l))) {
	case AlertCritical:
		return 2
	case AlertWarning:
		return 1
	default:
		return 0
	}
}
