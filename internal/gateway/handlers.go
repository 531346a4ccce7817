package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the WebSocket endpoint and the replay endpoints.
func RegisterRoutes(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/api/ws/latest", hub.serveLatest)
	mux.HandleFunc("/api/ws/missed", hub.serveMissed)
}

// ServeWS upgrades the request and registers the connection.
// ?last_ts=<RFC3339Nano> limits the initial state to newer messages.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	h.Register(conn, r.URL.Query().Get("last_ts"))
}

func (h *Hub) serveLatest(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.LatestAll())
}

// serveMissed handles GET /api/ws/missed?channel=X&from=N&to=M.
// to defaults to the channel's current sequence number.
func (h *Hub) serveMissed(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	q := r.URL.Query()
	channel := q.Get("channel")
	from, err := strconv.ParseInt(q.Get("from"), 10, 64)
	if channel == "" || err != nil {
		http.Error(w, `{"error":"channel and from are required"}`, http.StatusBadRequest)
		return
	}
	to := h.ChannelSeq(channel)
	if s := q.Get("to"); s != "" {
		if to, err = strconv.ParseInt(s, 10, 64); err != nil {
			http.Error(w, `{"error":"invalid to"}`, http.StatusBadRequest)
			return
		}
	}

	entries := h.ReplayRange(channel, from, to)
	msgs := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		msgs[i] = e
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"channel":  channel,
		"from":     from,
		"to":       to,
		"messages": msgs,
	})
}
