package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Publish marshals v and broadcasts it on channel.
func (h *Hub) Publish(channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: marshal %s: %w", channel, err)
	}
	h.Broadcast(channel, data)
	return nil
}

// Broadcast wraps data (already valid JSON) in an envelope and sends it to
// every client subscribed to channel. Slow clients drop messages rather than
// block the publisher; they recover through the replay buffer.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.seq++
	seq := h.seq

	buf := buildEnvelope(channel, data, now, seq, channelSeq)
	h.latest[channel] = latestEntry{Envelope: buf, TS: now}

	rb, exists := h.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(replayCapacity)
		h.replayBufs[channel] = rb
	}
	// Push under the hub lock so replay order matches channel_seq.
	rb.Push(channelSeq, buf)
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

// buildEnvelope hand-crafts
// {"channel":..,"data":..,"ts":..,"seq":N,"channel_seq":M}.
func buildEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}
