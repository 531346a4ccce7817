// Package binance fetches klines from the Binance spot REST API.
package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bandsim/internal/model"
)

const (
	defaultBaseURL = "https://api.binance.com"
	klinesPath     = "/api/v3/klines"
	defaultTimeout = 7 * time.Second

	// MaxLimit is the largest page the klines endpoint serves.
	MaxLimit = 1000
)

// Config configures the klines client.
type Config struct {
	BaseURL string        // default: https://api.binance.com
	Timeout time.Duration // default: 7s
	Debug   bool
}

// Client is a model.CandleSource backed by GET /api/v3/klines.
type Client struct {
	baseURL    string
	debug      bool
	httpClient *http.Client
}

var _ model.CandleSource = (*Client)(nil)

// NewClient creates a klines client.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    base,
		debug:      cfg.Debug,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx answer from Binance.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("binance: status %d", e.Status)
	}
	return fmt.Sprintf("binance: status %d: code %d: %s", e.Status, e.Code, e.Msg)
}

// Klines returns up to limit raw kline records for symbol/interval, oldest
// first. Numeric fields are left as json.Number or strings for the normalizer.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.RawCandle, error) {
	if limit <= 0 || limit > MaxLimit {
		return nil, fmt.Errorf("binance: limit %d out of range 1..%d", limit, MaxLimit)
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	reqURL := c.baseURL + klinesPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.debug {
		log.Printf("[binance] GET %s", reqURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, interval, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("binance: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		json.Unmarshal(raw, apiErr)
		return nil, apiErr
	}

	var rows []model.RawCandle
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("binance: couldn't parse klines: %w", err)
	}

	if c.debug {
		log.Printf("[binance] %s %s: %d klines", symbol, interval, len(rows))
	}
	return rows, nil
}
