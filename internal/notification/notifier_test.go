package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bandsim/internal/model"
	"bandsim/internal/strategy"
)

type recorder struct {
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestQuoteAsset(t *testing.T) {
	cases := map[string]string{"BTCUSDT": "USDT", "DOGEUSDT": "USDT", "ETHBTC": "HBTC", "USD": "USD"}
	for in, want := range cases {
		if got := QuoteAsset(in); got != want {
			t.Errorf("QuoteAsset(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSignalAlert(t *testing.T) {
	a := SignalAlert("s1", "BTCUSDT", strategy.Signal{Action: strategy.ActionSell, Close: 105, Band: 104.5})
	if a.Level != AlertWarning {
		t.Errorf("expected warning, got %s", a.Level)
	}
	if !strings.Contains(a.Title, "SELL") || !strings.Contains(a.Message, "upper") {
		t.Errorf("unexpected alert %+v", a)
	}
}

func TestOrderAlert_QuoteLabel(t *testing.T) {
	ev := model.OrderEvent{Type: model.OrderBuy, Price: 85, Time: time.Unix(0, 0)}
	a := OrderAlert("s1", "ETHUSDT", ev)
	if !strings.HasPrefix(a.Title, "Bought ETHUSDT at 85") {
		t.Errorf("unexpected title %q", a.Title)
	}
	if !strings.Contains(a.Message, "USDT") {
		t.Errorf("expected quote label in %q", a.Message)
	}
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	err := Multi{bad, ok}.Send(context.Background(), Alert{Title: "x"})

	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.alerts) != 1 || len(bad.alerts) != 1 {
		t.Errorf("expected both notifiers called, got %d and %d", len(ok.alerts), len(bad.alerts))
	}
}

func TestMinLevel_Filters(t *testing.T) {
	r := &recorder{}
	n := MinLevel{Level: AlertWarning, Next: r}
	ctx := context.Background()

	n.Send(ctx, Alert{Level: AlertInfo})
	n.Send(ctx, Alert{Level: AlertWarning})
	n.Send(ctx, Alert{Level: AlertCritical})

	if len(r.alerts) != 2 {
		t.Errorf("expected 2 alerts past the filter, got %d", len(r.alerts))
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Level: AlertInfo, Title: "Trade #1 recorded", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Title != "Trade #1 recorded" || got.SessionID != "s1" || got.TS == "" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("TOKEN", "42").WithAPIBase(srv.URL)
	if err := tg.Send(context.Background(), Alert{Level: AlertWarning, Title: "Possible BUY signal", Message: "close 1.5", Symbol: "BTCUSDT"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("unexpected path %q", path)
	}
	if body["chat_id"] != "42" || body["parse_mode"] != "MarkdownV2" {
		t.Errorf("unexpected body %v", body)
	}
	if !strings.Contains(body["text"], `close 1\.5`) {
		t.Errorf("expected escaped text, got %q", body["text"])
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b.c!"); got != `a\_b\.c\!` {
		t.Errorf("got %q", got)
	}
}
