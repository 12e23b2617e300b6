package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"td9scan/internal/model"
)

// DefaultBaseURL is the Binance spot REST API.
const DefaultBaseURL = "https://api.binance.com"

// BinanceConfig configures the REST adapter.
type BinanceConfig struct {
	BaseURL        string
	RequestTimeout time.Duration // per-call timeout, default 15s
	RequestsPerMin int           // rate-limit budget, default 1100 (spot weight limit headroom)
}

// Binance fetches bars and spot prices from the Binance spot REST API.
// Requests are paced by a token-bucket limiter so a 15-worker scan stays
// inside the exchange weight limits.
type Binance struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration

	// ObserveRequest, when set, receives the latency of every REST call.
	ObserveRequest func(seconds float64)
}

// NewBinance creates the adapter and verifies connectivity with a ping.
func NewBinance(cfg BinanceConfig) (*Binance, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = 1100
	}

	b := &Binance{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMin)/60.0), 20),
		timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	if err := b.ping(ctx); err != nil {
		return nil, fmt.Errorf("binance ping: %w", err)
	}
	slog.Info("binance connected", "base_url", b.baseURL)
	return b, nil
}

func (b *Binance) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/v3/ping", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Bars implements Source. Symbols may use either "BTC/USDT" or
// "BTCUSDT" form.
func (b *Binance) Bars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	q := url.Values{}
	q.Set("symbol", apiSymbol(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]any
	if err := b.getJSON(ctx, "/api/v3/klines?"+q.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("%w: klines %s: %v", ErrDataUnavailable, symbol, err)
	}
	if len(rows) < MinBars {
		return nil, fmt.Errorf("%w: %s: %d bars, need %d", ErrDataUnavailable, symbol, len(rows), MinBars)
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: %s: malformed kline row", ErrDataUnavailable, symbol)
		}
		bars = append(bars, model.Bar{
			TS:     time.UnixMilli(toInt64(row[0])).UTC(),
			Open:   toFloat(row[1]),
			High:   toFloat(row[2]),
			Low:    toFloat(row[3]),
			Close:  toFloat(row[4]),
			Volume: toFloat(row[5]),
		})
	}
	return bars, nil
}

// Spot implements Source.
func (b *Binance) Spot(ctx context.Context, symbol string) (float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	path := "/api/v3/ticker/price?symbol=" + url.QueryEscape(apiSymbol(symbol))
	if err := b.getJSON(ctx, path, &out); err != nil {
		return 0, fmt.Errorf("%w: ticker %s: %v", ErrDataUnavailable, symbol, err)
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%w: %s: bad price %q", ErrDataUnavailable, symbol, out.Price)
	}
	return price, nil
}

func (b *Binance) getJSON(ctx context.Context, path string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if b.ObserveRequest != nil {
		start := time.Now()
		defer func() { b.ObserveRequest(time.Since(start).Seconds()) }()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// apiSymbol converts catalog form ("BTC/USDT") to API form ("BTCUSDT").
func apiSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// Binance klines mix JSON numbers and numeric strings in one row.
func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case json.Number:
		n, _ := t.Int64()
		return n
	default:
		return 0
	}
}
