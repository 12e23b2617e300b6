package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"td9scan/internal/bus"
	"td9scan/internal/ledger"
	"td9scan/internal/marketdata"
	"td9scan/internal/metrics"
	"td9scan/internal/model"
	"td9scan/internal/scan"
	"td9scan/internal/symbols"
)

type stubSource struct {
	bars map[string][]model.Bar
	spot map[string]float64
}

func (s *stubSource) Bars(_ context.Context, symbol, _ string, _ int) ([]model.Bar, error) {
	bars, ok := s.bars[symbol]
	if !ok {
		return nil, marketdata.ErrDataUnavailable
	}
	return bars, nil
}

func (s *stubSource) Spot(_ context.Context, symbol string) (float64, error) {
	if p, ok := s.spot[symbol]; ok {
		return p, nil
	}
	return 0, marketdata.ErrDataUnavailable
}

func trendBars(n int, start, step float64) []model.Bar {
	bars := make([]model.Bar, n)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		c := start + float64(i)*step
		bars[i] = model.Bar{
			TS:    t0.Add(time.Duration(i) * time.Hour),
			Open:  c - step/2,
			High:  c + 1,
			Low:   c - 1,
			Close: c,
		}
	}
	return bars
}

func newTestEngine(t *testing.T, src marketdata.Source, universe []string) *Engine {
	t.Helper()
	e := New(Config{}, Deps{
		Source:    src,
		Evaluator: scan.NewEvaluator(src),
		Ledger:    ledger.New(ledger.Config{}),
		Catalog:   symbols.NewCatalog(nil, universe),
		Bus:       bus.New(4096),
		Metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
	})
	e.tickEvery = 5 * time.Millisecond
	e.priceEvery = time.Hour // keep the price loop quiet
	return e
}

func verdict(sym string, buy, sell bool, wr float64) *model.Verdict {
	v := &model.Verdict{Sym: sym, Full: sym + "/USDT", Price: 100}
	if buy {
		v.Buy9 = 9
		v.BuyWR = wr
		v.BuyWROK = true
		v.SupportOK = true
		v.BuyPassed = true
	}
	if sell {
		v.Sell9 = 9
		v.SellWR = wr
		v.SellWROK = true
		v.ResistanceOK = true
		v.SellPassed = true
	}
	return v
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStartIsIdempotent(t *testing.T) {
	e := newTestEngine(t, &stubSource{}, []string{"BTC/USDT"})
	defer e.Stop()

	if ok, _ := e.Start(); !ok {
		t.Fatal("first start failed")
	}
	ok, msg := e.Start()
	if !ok || msg != "already running" {
		t.Errorf("second start: got %v %q", ok, msg)
	}
	e.Stop()
	if e.Running() {
		t.Error("still running after stop")
	}
	e.Stop() // no panic on double stop
}

func TestFullScanCycle(t *testing.T) {
	src := &stubSource{bars: map[string][]model.Bar{
		"BTC/USDT": trendBars(100, 500, -1),
		"ETH/USDT": trendBars(100, 100, 1),
	}}
	e := newTestEngine(t, src, []string{"BTC/USDT", "ETH/USDT", "XRP/USDT"})

	events, cancel := e.d.Bus.Subscribe()
	defer cancel()

	if ok, _ := e.Start(); !ok {
		t.Fatal("start failed")
	}
	defer e.Stop()

	// A progress event at 100% marks the end of the first scan.
	deadline := time.After(5 * time.Second)
	finished := false
	for !finished {
		select {
		case ev := <-events:
			if ev.Name != "progress" {
				continue
			}
			var p progressPayload
			json.Unmarshal(ev.Data, &p)
			finished = p.Pct == 100
		case <-deadline:
			t.Fatal("scan did not finish")
		}
	}

	st := e.Snapshot()
	if !st.Running {
		t.Error("snapshot says not running")
	}
	// BTC's downtrend and ETH's uptrend each completed a setup; XRP had
	// no data and must appear in the scan log as a failure.
	if len(st.Backtest.Results) != 2 {
		t.Errorf("backtest rows: got %d, want 2", len(st.Backtest.Results))
	}
	foundErr := false
	for _, l := range st.ScanLogs {
		if l.Kind == "err" {
			foundErr = true
		}
	}
	if !foundErr {
		t.Error("no failure line for the symbol without data")
	}
}

func TestScanNowArbitration(t *testing.T) {
	e := newTestEngine(t, &stubSource{}, []string{"BTC/USDT"})

	// Idle: the request zeroes the schedule so the next tick scans.
	e.mu.Lock()
	e.lastScan = time.Now()
	e.mu.Unlock()
	if inFlight := e.ScanNow(); inFlight {
		t.Error("idle request reported in-flight")
	}
	e.mu.Lock()
	if !e.lastScan.IsZero() {
		t.Error("schedule not reset")
	}

	// In flight: the request queues exactly one follow-up cycle.
	e.scanning = true
	e.mu.Unlock()
	if inFlight := e.ScanNow(); !inFlight {
		t.Error("in-flight request not detected")
	}
	e.ScanNow() // repeat collapses into the same flag
	e.mu.Lock()
	if !e.forceScan {
		t.Error("force flag not set")
	}
	e.mu.Unlock()
}

func TestRunScanSingleFlight(t *testing.T) {
	e := newTestEngine(t, &stubSource{}, []string{"BTC/USDT"})

	// Simulate a scan holding the lock: a second entry must skip.
	e.scanMu.Lock()
	e.mu.Lock()
	e.scanning = true
	e.mu.Unlock()

	e.runScan(context.Background())

	e.mu.Lock()
	scanning := e.scanning
	e.mu.Unlock()
	if scanning {
		t.Error("skipped scan left the scanning flag set")
	}
	logged := false
	e.logMu.Lock()
	for _, l := range e.logs.Tail(maxLogs) {
		if l.Kind == "err" {
			logged = true
		}
	}
	e.logMu.Unlock()
	if !logged {
		t.Error("skip not logged")
	}
	e.scanMu.Unlock()
}

func TestAdmissionCapsAndOrdering(t *testing.T) {
	e := newTestEngine(t, &stubSource{}, nil)

	// Eight qualified longs; only the five best win rates may enter.
	for i := 0; i < 8; i++ {
		v := verdict(fmt.Sprintf("C%d", i), true, false, 50+float64(i))
		e.buySigs[v.Sym] = v
	}
	e.finishScan(context.Background(), 1, 8, 0, 8, time.Now())

	if got := e.d.Ledger.OpenCount(); got != 5 {
		t.Fatalf("open positions: got %d, want 5", got)
	}
	for i := 3; i < 8; i++ {
		sym := fmt.Sprintf("C%d", i)
		if !e.d.Ledger.HasOpen(sym, model.Long) {
			t.Errorf("%s (wr %d) not admitted", sym, 50+i)
		}
		if e.buySigs[sym].TradeResult != "LONG_OK" {
			t.Errorf("%s trade_result: %q", sym, e.buySigs[sym].TradeResult)
		}
	}
	for i := 0; i < 3; i++ {
		if e.buySigs[fmt.Sprintf("C%d", i)].TradeResult != "" {
			t.Errorf("C%d admitted despite lower wr", i)
		}
	}
}

func TestBothDirectionsAdmitted(t *testing.T) {
	e := newTestEngine(t, &stubSource{}, nil)

	vb := verdict("BTC", true, false, 80)
	vs := verdict("ETH", false, true, 75)
	e.buySigs["BTC"] = vb
	e.sellSigs["ETH"] = vs
	e.finishScan(context.Background(), 1, 2, 0, 2, time.Now())

	if !e.d.Ledger.HasOpen("BTC", model.Long) {
		t.Error("long not opened")
	}
	if !e.d.Ledger.HasOpen("ETH", model.Short) {
		t.Error("short not opened")
	}
	if vb.TradeResult != "LONG_OK" || vs.TradeResult != "SHORT_OK" {
		t.Errorf("trade results: %q / %q", vb.TradeResult, vs.TradeResult)
	}
}

func TestGlobalPositionCap(t *testing.T) {
	e := newTestEngine(t, &stubSource{}, nil)
	e.cfg.MaxOpenPositions = 3
	e.cfg.MaxNewPerScan = 10

	for i := 0; i < 6; i++ {
		v := verdict(fmt.Sprintf("C%d", i), true, false, 60)
		e.buySigs[v.Sym] = v
	}
	e.finishScan(context.Background(), 1, 6, 0, 6, time.Now())

	if got := e.d.Ledger.OpenCount(); got != 3 {
		t.Errorf("open positions: got %d, want cap 3", got)
	}
}

func TestCheckExitsPublishesClosures(t *testing.T) {
	src := &stubSource{spot: map[string]float64{"BTC/USDT": 121}}
	e := newTestEngine(t, src, nil)
	e.d.Ledger.OpenTrade("BTC", 100, model.Long, 0)

	events, cancel := e.d.Bus.Subscribe()
	defer cancel()

	e.refreshPrices(context.Background())
	e.checkExits()

	if e.d.Ledger.OpenCount() != 0 {
		t.Fatal("position not closed at take profit")
	}
	// A closure triggers stats and closed pushes alongside positions.
	seen := map[string]bool{}
	for len(events) > 0 {
		ev := <-events
		seen[ev.Name] = true
	}
	for _, want := range []string{"positions", "stats", "closed", "log"} {
		if !seen[want] {
			t.Errorf("missing %q event", want)
		}
	}
}

func TestSetConfigClamps(t *testing.T) {
	e := newTestEngine(t, &stubSource{}, nil)

	iv, wr, dist := e.SetConfig(300, 120, 50)
	if iv != 120 || wr != 100 || dist != 20 {
		t.Errorf("clamp high: got %d/%v/%v", iv, wr, dist)
	}
	iv, wr, dist = e.SetConfig(1, -5, 0)
	if iv != 5 || wr != 0 || dist != 1 {
		t.Errorf("clamp low: got %d/%v/%v", iv, wr, dist)
	}
	if e.ScanIntervalMin() != 5 {
		t.Errorf("interval: got %d, want 5", e.ScanIntervalMin())
	}
}

func TestPositionsDataDistances(t *testing.T) {
	e := newTestEngine(t, &stubSource{}, nil)
	e.d.Ledger.OpenTrade("BTC", 100, model.Long, 0)
	e.priceMu.Lock()
	e.prices["BTC"] = 110
	e.priceMu.Unlock()

	pd := e.positionsData()
	if len(pd.Positions) != 1 {
		t.Fatalf("got %d positions", len(pd.Positions))
	}
	p := pd.Positions[0]
	if p.Current != 110 {
		t.Errorf("cur: got %v", p.Current)
	}
	// tp=120, sl=95 at price 110.
	if diff := p.DistTP - (120.0-110)/110*100; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("dtp: got %v", p.DistTP)
	}
	if diff := p.DistSL - (110.0-95)/110*100; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("dsl: got %v", p.DistSL)
	}
	if pd.Initial != 50000 || pd.Balance != 49500 {
		t.Errorf("balance fields: %v/%v", pd.Balance, pd.Initial)
	}
}

// blockingSource parks every Bars call until released and reports the
// context state seen at release time.
type blockingSource struct {
	stubSource
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (s *blockingSource) Bars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error) {
	s.entered <- struct{}{}
	select {
	case <-ctx.Done():
		s.ctxErr <- ctx.Err()
		return nil, ctx.Err()
	case <-s.release:
		s.ctxErr <- nil
	}
	return s.stubSource.Bars(ctx, symbol, interval, limit)
}

func TestStopLetsInFlightScanFinish(t *testing.T) {
	src := &blockingSource{
		stubSource: stubSource{bars: map[string][]model.Bar{"BTC/USDT": trendBars(100, 500, -1)}},
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
		ctxErr:     make(chan error, 1),
	}
	e := newTestEngine(t, src, []string{"BTC/USDT"})

	events, cancel := e.d.Bus.Subscribe()
	defer cancel()

	if ok, _ := e.Start(); !ok {
		t.Fatal("start failed")
	}
	<-src.entered // first fetch is in flight
	e.Stop()
	close(src.release)

	if err := <-src.ctxErr; err != nil {
		t.Fatalf("stop interrupted the in-flight fetch: %v", err)
	}

	// The cycle still runs to completion: progress reaches 100 and the
	// parked fetch produced a real verdict.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Name != "progress" {
				continue
			}
			var p progressPayload
			json.Unmarshal(ev.Data, &p)
			if p.Pct == 100 {
				if n := len(e.backtestData().Results); n != 1 {
					t.Errorf("backtest rows: got %d, want 1", n)
				}
				return
			}
		case <-deadline:
			t.Fatal("scan did not finish after stop")
		}
	}
}

func TestScanMetricsReflectBook(t *testing.T) {
	e := newTestEngine(t, &stubSource{}, nil)

	vb := verdict("BTC", true, false, 80)
	vs := verdict("ETH", false, true, 75)
	e.buySigs["BTC"] = vb
	e.sellSigs["ETH"] = vs
	e.finishScan(context.Background(), 1, 2, 0, 2, time.Now())

	if got := testutil.ToFloat64(e.d.Metrics.SignalsTotal.WithLabelValues("buy")); got != 1 {
		t.Errorf("buy signals counter: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(e.d.Metrics.SignalsTotal.WithLabelValues("sell")); got != 1 {
		t.Errorf("sell signals counter: got %v, want 1", got)
	}
	// Both trades sit at their entry price, so the marked book is the
	// free balance plus one notional per side.
	want := e.d.Ledger.Balance() + 2*500
	if got := testutil.ToFloat64(e.d.Metrics.PortfolioVal); got != want {
		t.Errorf("portfolio gauge: got %v, want %v", got, want)
	}
}
