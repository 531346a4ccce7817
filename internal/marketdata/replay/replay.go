// Package replay serves recorded klines as a candle source, one candle at a
// time, so a session can be driven through history the way it would be
// driven by live refresh passes.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"bandsim/internal/model"
)

// Source replays a fixed kline dump. Each Klines call advances the replay
// cursor by one record and returns the trailing window ending at it.
type Source struct {
	Symbol   string // optional; when set, requests for other symbols fail
	Interval string

	mu     sync.Mutex
	rows   []model.RawCandle
	cursor int
}

var _ model.CandleSource = (*Source)(nil)

// New creates a Source over rows, which must be oldest first.
func New(rows []model.RawCandle) *Source {
	return &Source{rows: rows}
}

// Load reads a JSON kline dump, the same array-of-arrays body the klines
// REST endpoint returns.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: read %s: %w", path, err)
	}
	var rows []model.RawCandle
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("replay: decode %s: %w", path, err)
	}
	log.Printf("[replay] loaded %d klines from %s", len(rows), path)
	return New(rows), nil
}

// Len returns the number of recorded klines.
func (s *Source) Len() int { return len(s.rows) }

// Done reports whether the cursor has reached the last record.
func (s *Source) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor >= len(s.rows)
}

// Reset rewinds the cursor to the start.
func (s *Source) Reset() {
	s.mu.Lock()
	s.cursor = 0
	s.mu.Unlock()
}

// Klines advances one record and returns up to limit records ending at the
// cursor. Once exhausted it keeps returning the final window.
func (s *Source) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.RawCandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Symbol != "" && !strings.EqualFold(s.Symbol, symbol) {
		return nil, fmt.Errorf("replay: recorded %s, asked for %s", s.Symbol, symbol)
	}
	if s.Interval != "" && s.Interval != interval {
		return nil, fmt.Errorf("replay: recorded interval %s, asked for %s", s.Interval, interval)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("replay: limit must be positive, got %d", limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < len(s.rows) {
		s.cursor++
	}
	from := s.cursor - limit
	if from < 0 {
		from = 0
	}
	out := make([]model.RawCandle, s.cursor-from)
	copy(out, s.rows[from:s.cursor])
	return out, nil
}

// Run steps through the whole dump, calling fn once per record. fn normally
// pulls the window through Klines; if it does not, Run advances the cursor
// itself.
// speed paces the steps by the recorded open-time gaps: 1.0 = real time,
// 10.0 = 10x, 0 = as fast as possible. Gaps are capped at 5s.
func (s *Source) Run(ctx context.Context, speed float64, fn func(ctx context.Context) error) error {
	var prevTS time.Time
	steps := 0
	for !s.Done() {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d steps", steps)
			return ctx.Err()
		default:
		}

		s.mu.Lock()
		before := s.cursor
		ts := openTime(s.rows[before])
		s.mu.Unlock()

		if speed > 0 && !prevTS.IsZero() && !ts.IsZero() {
			if gap := ts.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = ts

		if err := fn(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		if s.cursor == before {
			s.cursor++
		}
		s.mu.Unlock()
		steps++
	}
	log.Printf("[replay] finished after %d steps", steps)
	return nil
}

// openTime reads a row's open time for pacing only; malformed rows yield the
// zero time and are left for the normalizer to reject.
func openTime(row model.RawCandle) time.Time {
	if len(row) == 0 {
		return time.Time{}
	}
	switch v := row[0].(type) {
	case json.Number:
		if ms, err := v.Int64(); err == nil {
			return time.UnixMilli(ms)
		}
	case float64:
		return time.UnixMilli(int64(v))
	}
	return time.Time{}
}
