// cmd/backtest replays a recorded kline dump through one simulator session
// with fixed buy and sell triggers, finalizes the result into a ledger and
// prints a summary.
//
// Usage:
//
//	go run ./cmd/backtest --file=klines.json --buy=25000 --sell=27000 --speed=0
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bandsim/internal/logger"
	"bandsim/internal/marketdata/replay"
	"bandsim/internal/model"
	"bandsim/internal/notification"
	"bandsim/internal/simengine"
	"bandsim/internal/store/memory"
	sqlitestore "bandsim/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	file := flag.String("file", "", "Path to a JSON kline dump (array of kline arrays)")
	symbol := flag.String("symbol", "BTCUSDT", "Symbol label for the replayed data")
	interval := flag.String("interval", "1m", "Interval label for the replayed data")
	lookback := flag.Int("lookback", 100, "Candles per pass")
	window := flag.Int("window", 20, "Band window")
	buy := flag.Float64("buy", 0, "Buy trigger price (0=inactive)")
	sell := flag.Float64("sell", 0, "Sell trigger price (0=inactive)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	dbPath := flag.String("db", "", "SQLite ledger path (empty=in-memory)")
	webhook := flag.String("webhook", "", "Also post alerts to this webhook URL")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	if *file == "" {
		log.Fatal("[backtest] --file is required")
	}
	logger.Init("backtest", logger.ParseLevel(*logLevel))

	src, err := replay.Load(*file)
	if err != nil {
		log.Fatalf("[backtest] load failed: %v", err)
	}
	src.Symbol, src.Interval = strings.ToUpper(*symbol), *interval

	var ledger model.TradeLedger = memory.NewLedger()
	if *dbPath != "" {
		sl, err := sqlitestore.NewLedger(sqlitestore.LedgerConfig{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		ledger = sl
	}
	defer ledger.Close()

	notifiers := notification.Multi{notification.NewLogNotifier()}
	if *webhook != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(*webhook))
	}

	svc := simengine.New(simengine.Market{
		Symbol:   src.Symbol,
		Interval: src.Interval,
		Lookback: *lookback,
		Window:   *window,
	}, simengine.Deps{Source: src, Ledger: ledger, Notifier: notifiers})
	id := svc.CreateSession(simengine.Market{}).State.ID

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	triggers := simengine.Triggers{Buy: *buy, Sell: *sell}
	passes, failed, buys, sells, signals := 0, 0, 0, 0, 0
	err = src.Run(ctx, *speed, func(ctx context.Context) error {
		res, err := svc.Evaluate(ctx, id, triggers)
		passes++
		if err != nil {
			failed++
			log.Printf("[backtest] pass %d: %v", passes, err)
			return nil
		}
		signals += len(res.Signals)
		for _, ev := range res.Transition.Events {
			switch ev.Type {
			case model.OrderBuy:
				buys++
			case model.OrderSell:
				sells++
			}
			fmt.Printf("  [%s] %-4s @ %.8g\n", ev.Time.Format("2006-01-02 15:04"), strings.ToUpper(string(ev.Type)), ev.Price)
		}
		return nil
	})
	if err != nil {
		log.Printf("[backtest] replay stopped: %v", err)
	}

	view, _ := svc.Session(id)
	rec, err := svc.Finalize(context.Background(), id)
	if err != nil {
		log.Fatalf("[backtest] finalize failed: %v", err)
	}

	// Print summary
	quote := view.Quote
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Passes:            %-16d ║\n", passes)
	fmt.Printf("║  Failed passes:     %-16d ║\n", failed)
	fmt.Printf("║  Advisory signals:  %-16d ║\n", signals)
	fmt.Printf("║  Buys / sells:      %-16s ║\n", fmt.Sprintf("%d / %d", buys, sells))
	fmt.Printf("║  Position at end:   %-16s ║\n", view.State.Position.State)
	fmt.Printf("║  Realized P&L:      %-16s ║\n", fmt.Sprintf("%.2f %s", view.State.RealizedPnL, quote))
	fmt.Printf("║  Unrealized P&L:    %-16s ║\n", fmt.Sprintf("%.2f %s", view.State.UnrealizedPnL, quote))
	if rec != nil {
		fmt.Printf("║  Ledger trade id:   %-16d ║\n", rec.ID)
	} else {
		fmt.Printf("║  Ledger trade id:   %-16s ║\n", "none")
	}
	fmt.Println("╚══════════════════════════════════════╝")
}
