package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	buf := buildEnvelope(`session:a"b`, []byte(`{"close":101.5}`), now, 7, 3)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("invalid envelope JSON: %v\n%s", err, buf)
	}
	if env.Channel != `session:a"b` || env.Seq != 7 || env.ChannelSeq != 3 {
		t.Errorf("unexpected envelope %+v", env)
	}
	if string(env.Data) != `{"close":101.5}` {
		t.Errorf("data: got %s", env.Data)
	}
}

func TestHub_SequencesAndReplay(t *testing.T) {
	h := NewHub()
	h.Publish(SessionChannel("s1"), map[string]int{"n": 1})
	h.Publish(TradesChannel, map[string]int{"n": 2})
	h.Publish(SessionChannel("s1"), map[string]int{"n": 3})

	if got := h.ChannelSeq(SessionChannel("s1")); got != 2 {
		t.Fatalf("channel seq: got %d, want 2", got)
	}
	msgs := h.ReplayRange(SessionChannel("s1"), 1, 2)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 replayed messages, got %d", len(msgs))
	}
	var last envelope
	json.Unmarshal(msgs[1], &last)
	if last.Seq != 3 || string(last.Data) != `{"n":3}` {
		t.Errorf("unexpected replay tail %+v", last)
	}
	if len(h.LatestAll()) != 2 {
		t.Errorf("expected latest for 2 channels, got %d", len(h.LatestAll()))
	}
}

func TestHub_ConcurrentPublishKeepsReplayOrder(t *testing.T) {
	h := NewHub()
	const writers, each = 20, 20

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				h.Publish(TradesChannel, map[string]int{"w": w, "i": i})
			}
		}(w)
	}
	wg.Wait()

	msgs := h.ReplayRange(TradesChannel, 1, writers*each)
	if len(msgs) != writers*each {
		t.Fatalf("expected %d replayed messages, got %d", writers*each, len(msgs))
	}
	for i, m := range msgs {
		var env envelope
		if err := json.Unmarshal(m, &env); err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if env.ChannelSeq != int64(i+1) {
			t.Fatalf("replay entry %d has channel_seq %d", i, env.ChannelSeq)
		}
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_SubscribedClientGetsOnlyItsSession(t *testing.T) {
	h := NewHub()
	mux := http.NewServeMux()
	RegisterRoutes(mux, h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)

	conn.WriteJSON(map[string]string{"type": "SUBSCRIBE", "session_id": "s1"})
	var ack map[string]string
	readJSON(t, conn, &ack)
	if ack["type"] != "subscribed" || ack["session_id"] != "s1" {
		t.Fatalf("unexpected ack %v", ack)
	}

	h.Publish(SessionChannel("other"), map[string]string{"x": "skip"})
	h.Publish(SessionChannel("s1"), map[string]string{"x": "mine"})
	h.Publish(TradesChannel, map[string]string{"x": "trade"})

	var env envelope
	readJSON(t, conn, &env)
	if env.Channel != SessionChannel("s1") {
		t.Fatalf("expected session:s1 first, got %s", env.Channel)
	}
	readJSON(t, conn, &env)
	if env.Channel != TradesChannel {
		t.Fatalf("expected trades, got %s", env.Channel)
	}
}

func TestHub_UnsubscribedClientGetsNoSessionChannels(t *testing.T) {
	h := NewHub()
	h.Publish(SessionChannel("s1"), map[string]string{"x": "before"})

	mux := http.NewServeMux()
	RegisterRoutes(mux, h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)

	h.Publish(SessionChannel("s1"), map[string]string{"x": "live"})
	h.Publish(TradesChannel, map[string]string{"x": "trade"})

	var env envelope
	readJSON(t, conn, &env)
	if env.Channel != TradesChannel {
		t.Fatalf("expected trades only, got %s", env.Channel)
	}

	// subscribing delivers the session's latest envelope
	conn.WriteJSON(map[string]string{"type": "SUBSCRIBE", "session_id": "s1"})
	var ack map[string]string
	readJSON(t, conn, &ack)
	if ack["type"] != "subscribed" {
		t.Fatalf("unexpected ack %v", ack)
	}
	readJSON(t, conn, &env)
	if env.Channel != SessionChannel("s1") || string(env.Data) != `{"x":"live"}` {
		t.Errorf("expected latest session:s1 envelope, got %+v", env)
	}
}

func TestHub_InitialStateOnConnect(t *testing.T) {
	h := NewHub()
	h.Publish(TradesChannel, map[string]int{"id": 1})

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var env envelope
	readJSON(t, conn, &env)
	if env.Channel != TradesChannel || string(env.Data) != `{"id":1}` {
		t.Errorf("unexpected initial envelope %+v", env)
	}
}

func TestHub_PingPong(t *testing.T) {
	h := NewHub()
	mux := http.NewServeMux()
	RegisterRoutes(mux, h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	conn.WriteJSON(map[string]int64{"ping": 99})

	var pong struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	readJSON(t, conn, &pong)
	if pong.Type != "pong" || pong.Ping != 99 {
		t.Errorf("unexpected pong %+v", pong)
	}
}

func TestMissedEndpoint(t *testing.T) {
	h := NewHub()
	for i := 0; i < 4; i++ {
		h.Publish(TradesChannel, map[string]int{"i": i})
	}
	mux := http.NewServeMux()
	RegisterRoutes(mux, h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ws/missed?channel=trades&from=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		To       int64             `json:"to"`
		Messages []json.RawMessage `json:"messages"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.To != 4 || len(body.Messages) != 2 {
		t.Errorf("expected 2 messages up to seq 4, got %d up to %d", len(body.Messages), body.To)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ws/missed?channel=trades", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without from, got %d", rec.Code)
	}
}
