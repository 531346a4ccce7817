package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Session ids this client follows. Session channels reach a client only
	// after it subscribes.
	subMu sync.RWMutex
	subs  map[string]bool
}

type clientMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Ping      int64  `json:"ping"`
}

// sendInitialState queues the latest envelope of every channel the client
// receives, skipping those not newer than lastTS.
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for channel, entry := range c.hub.latest {
		if !c.matchesChannel(channel) {
			continue
		}
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		select {
		case c.send <- entry.Envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch strings.ToUpper(msg.Type) {
		case "SUBSCRIBE":
			if msg.SessionID == "" {
				c.reply(map[string]any{"type": "error", "error": "session_id is required"})
				continue
			}
			c.subMu.Lock()
			c.subs[msg.SessionID] = true
			c.subMu.Unlock()
			c.reply(map[string]any{"type": "subscribed", "session_id": msg.SessionID})
			c.sendLatest(SessionChannel(msg.SessionID))

		case "UNSUBSCRIBE":
			c.subMu.Lock()
			delete(c.subs, msg.SessionID)
			c.subMu.Unlock()
			c.reply(map[string]any{"type": "unsubscribed", "session_id": msg.SessionID})

		default:
			if msg.Ping > 0 {
				c.reply(map[string]any{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
			}
		}
	}
}

// reply queues a control message for this client only.
func (c *Client) reply(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// sendLatest queues the most recent envelope of channel, if any.
func (c *Client) sendLatest(channel string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	entry, ok := c.hub.latest[channel]
	if !ok || !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- entry.Envelope:
	default:
	}
}

// matchesChannel reports whether this client should receive channel.
// Session channels go only to their subscribers; all others go to everyone.
func (c *Client) matchesChannel(channel string) bool {
	id, ok := strings.CutPrefix(channel, sessionChannelPrefix)
	if !ok {
		return true
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subs[id]
}
