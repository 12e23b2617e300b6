// Package engine drives the scan lifecycle: periodic full-universe
// scans over a worker pool, live price refresh with TP/SL checks, the
// paper book, and the event stream feeding the dashboard.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"td9scan/internal/bus"
	"td9scan/internal/ledger"
	"td9scan/internal/logger"
	"td9scan/internal/marketdata"
	"td9scan/internal/metrics"
	"td9scan/internal/model"
	"td9scan/internal/notification"
	"td9scan/internal/ringbuf"
	"td9scan/internal/scan"
	"td9scan/internal/symbols"
)

const (
	maxLogs     = 500
	maxScanLogs = 2000

	// progressEvery is how many finished symbols between intermediate
	// dashboard pushes during a scan.
	progressEvery = 25
)

// Config holds the engine's scheduling and admission limits.
type Config struct {
	ScanInterval     time.Duration // wall time between scan starts, default 30m
	WorkerPool       int           // concurrent symbol evaluations, default 15
	MaxOpenPositions int           // book-wide cap, default 15
	MaxNewPerScan    int           // per-side cap on entries per scan, default 5
}

// Deps are the engine's collaborators.
type Deps struct {
	Source    marketdata.Source
	Evaluator *scan.Evaluator
	Ledger    *ledger.Ledger
	Catalog   *symbols.Catalog
	Bus       *bus.Bus
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus // optional
	Alerts    *notification.Multi   // optional
}

// Engine owns all mutable scanner state. One engine per process.
type Engine struct {
	cfg Config
	d   Deps

	mu        sync.Mutex // guards the fields below
	running   bool
	scanning  bool
	forceScan bool
	lastScan  time.Time
	scanCount int
	cancel    context.CancelFunc

	scanMu sync.Mutex // single-flight for scan execution

	priceMu sync.RWMutex
	prices  map[string]float64

	sigMu      sync.Mutex
	buySigs    map[string]*model.Verdict
	sellSigs   map[string]*model.Verdict
	allResults []*model.Verdict

	logMu    sync.Mutex
	logs     *ringbuf.Ring
	scanLogs *ringbuf.Ring

	// Overridable in tests.
	now        func() time.Time
	tickEvery  time.Duration
	priceEvery time.Duration
}

// New builds an engine; zero config fields get the stock limits.
func New(cfg Config, d Deps) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Minute
	}
	if cfg.WorkerPool <= 0 {
		cfg.WorkerPool = 15
	}
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = 15
	}
	if cfg.MaxNewPerScan <= 0 {
		cfg.MaxNewPerScan = 5
	}
	return &Engine{
		cfg:        cfg,
		d:          d,
		prices:     make(map[string]float64),
		buySigs:    make(map[string]*model.Verdict),
		sellSigs:   make(map[string]*model.Verdict),
		logs:       ringbuf.New(maxLogs),
		scanLogs:   ringbuf.New(maxScanLogs),
		now:        time.Now,
		tickEvery:  5 * time.Second,
		priceEvery: 30 * time.Second,
	}
}

// Start launches the run loop. Calling it while running is a no-op
// that reports success.
func (e *Engine) Start() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return true, "already running"
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.cancel = cancel
	go e.runLoop(ctx)
	slog.Info("engine started", "scan_interval", e.cfg.ScanInterval)
	return true, ""
}

// Stop halts the run loop. An in-flight scan finishes its cycle.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.d.Bus.Publish("status", statusPayload{Text: "Stopped", Scanning: false})
	slog.Info("engine stopped")
}

// Running reports whether the run loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ScanNow requests an immediate scan. With no scan in flight the next
// loop tick starts one; otherwise the current scan finishes and exactly
// one extra cycle follows. Repeated calls collapse into one request.
// The return value reports whether a scan was already in flight.
func (e *Engine) ScanNow() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.scanning {
		e.lastScan = time.Time{}
		return false
	}
	e.forceScan = true
	return true
}

// SetConfig applies dashboard tuning: scan interval in minutes (5-120),
// win-rate threshold (0-100) and level-distance ceiling (1-20). It
// returns the effective values after clamping.
func (e *Engine) SetConfig(intervalMin int, wrThresh, distMax float64) (int, float64, float64) {
	if intervalMin < 5 {
		intervalMin = 5
	}
	if intervalMin > 120 {
		intervalMin = 120
	}
	e.mu.Lock()
	e.cfg.ScanInterval = time.Duration(intervalMin) * time.Minute
	e.mu.Unlock()

	e.d.Evaluator.SetThresholds(wrThresh, distMax)
	wr, dist := e.d.Evaluator.Thresholds()
	e.addLog(fmt.Sprintf("config updated: interval=%dm wr>%.0f%% dist<%.0f%%", intervalMin, wr, dist), "normal")
	return intervalMin, wr, dist
}

// ScanIntervalMin returns the current scan interval in minutes.
func (e *Engine) ScanIntervalMin() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.cfg.ScanInterval / time.Minute)
}

func (e *Engine) runLoop(ctx context.Context) {
	ticker := time.NewTicker(e.tickEvery)
	defer ticker.Stop()

	// Fetch work runs on a detached context: Stop prevents the next
	// cycle at the loop checkpoint but never interrupts an in-flight
	// fetch, so a scan that has started always completes its cycle.
	workCtx := context.WithoutCancel(ctx)

	lastPrice := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := e.now()

		if now.Sub(lastPrice) >= e.priceEvery {
			e.refreshPrices(workCtx)
			e.checkExits()
			lastPrice = now
		}

		e.mu.Lock()
		interval := e.cfg.ScanInterval
		lastScan := e.lastScan
		scanning := e.scanning
		force := e.forceScan
		count := e.scanCount

		if !lastScan.IsZero() && !scanning {
			rem := interval - now.Sub(lastScan)
			if rem < 0 {
				rem = 0
			}
			e.d.Bus.Publish("countdown", countdownPayload{
				Text:     fmt.Sprintf("Next scan: %02d:%02d", int(rem.Minutes()), int(rem.Seconds())%60),
				Interval: int(interval / time.Minute),
				Scan:     count,
			})
		}

		shouldScan := !scanning && (force || lastScan.IsZero() || now.Sub(lastScan) >= interval)
		if shouldScan {
			e.scanning = true
			e.forceScan = false
			go e.runScan(workCtx)
		}
		e.mu.Unlock()
	}
}

// runScan is the single-flight wrapper around one scan cycle.
func (e *Engine) runScan(ctx context.Context) {
	if !e.scanMu.TryLock() {
		e.addLog("scan already in progress, skipped", "err")
		e.mu.Lock()
		e.scanning = false
		e.mu.Unlock()
		return
	}
	defer func() {
		e.mu.Lock()
		e.scanning = false
		if e.lastScan.IsZero() {
			// A failed first scan must not retrigger every tick.
			e.lastScan = e.now()
		}
		e.mu.Unlock()
		e.scanMu.Unlock()
		if e.d.Health != nil {
			e.d.Health.SetScanning(false)
		}
		e.d.Bus.Publish("status", statusPayload{Text: "System ready — waiting for next scan", Scanning: false})
	}()

	if e.d.Health != nil {
		e.d.Health.SetScanning(true)
	}
	e.doScan(ctx)
}

type symbolResult struct {
	symbol  string
	verdict *model.Verdict
	err     error
}

func (e *Engine) doScan(ctx context.Context) {
	start := e.now()

	e.mu.Lock()
	e.scanCount++
	sc := e.scanCount
	e.mu.Unlock()

	ctx = logger.WithScanID(ctx, logger.GenerateScanID(sc, start))
	slog.Info("scan started", logger.LogWithScan(ctx)...)

	e.sigMu.Lock()
	e.buySigs = make(map[string]*model.Verdict)
	e.sellSigs = make(map[string]*model.Verdict)
	e.allResults = nil
	e.sigMu.Unlock()

	e.d.Bus.Publish("status", statusPayload{Text: fmt.Sprintf("Scan #%d started...", sc), Scanning: true})
	e.addScanLog(strings.Repeat("=", 60), "header")
	e.addScanLog(fmt.Sprintf("SCAN #%d  —  %s", sc, start.Format("15:04:05")), "header")

	universe := e.d.Catalog.Resolve(ctx)
	total := len(universe)

	jobs := make(chan string)
	results := make(chan symbolResult)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.WorkerPool; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				v, err := e.d.Evaluator.Evaluate(ctx, sym)
				select {
				case results <- symbolResult{symbol: sym, verdict: v, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, sym := range universe {
			select {
			case jobs <- sym:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	done, failed := 0, 0
	for r := range results {
		done++
		if r.err != nil {
			failed++
			e.d.Metrics.SymbolErrors.Inc()
			e.addScanLog(fmt.Sprintf("[%3d/%d] %-10s -- NO DATA", done, total, baseOf(r.symbol)), "err")
		} else {
			e.d.Metrics.SymbolsOK.Inc()
			e.recordVerdict(r.verdict, done, total)
		}

		if done%progressEvery == 0 {
			e.pushProgress(done, total, sc)
		}
	}

	e.finishScan(ctx, sc, done, failed, total, start)
}

// recordVerdict folds one symbol's verdict into the scan state and
// writes its scan-log line.
func (e *Engine) recordVerdict(v *model.Verdict, done, total int) {
	e.priceMu.Lock()
	e.prices[v.Sym] = v.Price
	e.priceMu.Unlock()

	var tags []string
	e.sigMu.Lock()
	if v.Buy9 == 9 {
		e.buySigs[v.Sym] = v
		row := *v
		row.RowType = model.RowBuy
		e.allResults = append(e.allResults, &row)
		verdict := "LONG✓"
		if !v.BuyPassed {
			if !v.BuyWROK {
				verdict = "WR↓"
			} else {
				verdict = "SUP↑"
			}
		}
		tags = append(tags, fmt.Sprintf("BUY9 WR:%.0f%% (%d/%d) SUP:%+.1f%% [%s]",
			v.BuyWR, v.BuyWins, v.BuyTotal, v.SupportDist, verdict))
	}
	if v.Sell9 == 9 {
		e.sellSigs[v.Sym] = v
		row := *v
		row.RowType = model.RowSell
		e.allResults = append(e.allResults, &row)
		verdict := "SHORT✓"
		if !v.SellPassed {
			if !v.SellWROK {
				verdict = "WR↓"
			} else {
				verdict = "RES↑"
			}
		}
		tags = append(tags, fmt.Sprintf("SELL9 WR:%.0f%% (%d/%d) RES:%+.1f%% [%s]",
			v.SellWR, v.SellWins, v.SellTotal, v.ResistanceDist, verdict))
	}
	e.sigMu.Unlock()

	kind := "normal"
	if len(tags) > 0 {
		kind = "short"
		for _, t := range tags {
			if strings.Contains(t, "✓") {
				kind = "signal"
				break
			}
		}
	}
	ha := "▽"
	if v.HABull {
		ha = "▲"
	}
	e.addScanLog(fmt.Sprintf("[%3d/%d] %-10s $%14.6f  %s  %s",
		done, total, v.Sym, v.Price, ha, strings.Join(tags, "  ")), kind)
}

func (e *Engine) pushProgress(done, total, sc int) {
	e.d.Bus.Publish("progress", progressPayload{Pct: float64(done) / float64(total) * 100})

	e.sigMu.Lock()
	nb, ns := len(e.buySigs), len(e.sellSigs)
	hasResults := len(e.allResults) > 0
	e.sigMu.Unlock()

	e.d.Bus.Publish("status", statusPayload{
		Text:     fmt.Sprintf("%d/%d scanned | B:%d S:%d", done, total, nb, ns),
		Scanning: true,
	})
	if hasResults {
		e.d.Bus.Publish("backtest", e.backtestData())
		e.d.Bus.Publish("signals", e.signalsData())
	}
}

// finishScan admits the qualified signals into the book and publishes
// the end-of-scan snapshot.
func (e *Engine) finishScan(ctx context.Context, sc, done, failed, total int, start time.Time) {
	e.sigMu.Lock()
	var qBuys, qSells []*model.Verdict
	for _, v := range e.buySigs {
		if v.BuyPassed {
			qBuys = append(qBuys, v)
		}
	}
	for _, v := range e.sellSigs {
		if v.SellPassed {
			qSells = append(qSells, v)
		}
	}
	e.sigMu.Unlock()
	sort.Slice(qBuys, func(i, j int) bool { return qBuys[i].BuyWR > qBuys[j].BuyWR })
	sort.Slice(qSells, func(i, j int) bool { return qSells[i].SellWR > qSells[j].SellWR })
	e.d.Metrics.SignalsTotal.WithLabelValues("buy").Add(float64(len(qBuys)))
	e.d.Metrics.SignalsTotal.WithLabelValues("sell").Add(float64(len(qSells)))

	e.addScanLog(strings.Repeat("=", 60), "header")
	e.addScanLog(fmt.Sprintf("DONE #%d | ok:%d/%d | failed:%d", sc, done-failed, total, failed), "header")
	e.addScanLog(fmt.Sprintf("BUY9:%d → LONG candidates:%d", e.buyCount(), len(qBuys)), "header")
	e.addScanLog(fmt.Sprintf("SELL9:%d → SHORT candidates:%d", e.sellCount(), len(qSells)), "header")

	for _, side := range []struct {
		sigs      []*model.Verdict
		direction model.Direction
		ok        string
	}{
		{qBuys, model.Long, "LONG_OK"},
		{qSells, model.Short, "SHORT_OK"},
	} {
		n := len(side.sigs)
		if n > e.cfg.MaxNewPerScan {
			n = e.cfg.MaxNewPerScan
		}
		for _, v := range side.sigs[:n] {
			if e.d.Ledger.OpenCount() >= e.cfg.MaxOpenPositions {
				break
			}
			wr := v.BuyWR
			if side.direction == model.Short {
				wr = v.SellWR
			}
			ok, msg := e.d.Ledger.OpenTrade(v.Sym, v.Price, side.direction, wr)
			e.sigMu.Lock()
			if ok {
				v.TradeResult = side.ok
			} else {
				v.TradeResult = "ERR:" + msg
			}
			e.sigMu.Unlock()
			if ok {
				e.d.Metrics.TradesOpened.WithLabelValues(string(side.direction)).Inc()
				kind := "signal"
				if side.direction == model.Short {
					kind = "short"
				}
				e.addLog("OPENED: "+msg, kind)
				if e.d.Alerts != nil {
					e.d.Alerts.Notify(notification.TradeAlert{
						Action: "opened", Sym: v.Sym, Direction: side.direction, Price: v.Price,
					})
				}
			} else {
				e.addLog("REJECTED: "+msg, "err")
			}
		}
	}
	opened := e.d.Ledger.OpenCount()

	e.d.Bus.Publish("signals", e.signalsData())
	e.d.Bus.Publish("backtest", e.backtestData())
	e.d.Bus.Publish("positions", e.positionsData())
	e.d.Bus.Publish("stats", e.statsData())
	e.d.Bus.Publish("closed", e.closedData())
	e.d.Bus.Publish("progress", progressPayload{Pct: 100})
	e.d.Bus.Publish("status", statusPayload{
		Text:     fmt.Sprintf("Scan #%d finished | %d positions open", sc, opened),
		Scanning: false,
	})

	e.mu.Lock()
	e.lastScan = e.now()
	e.mu.Unlock()

	dur := e.now().Sub(start)
	e.d.Metrics.ScansTotal.Inc()
	e.d.Metrics.ScanDuration.Observe(dur.Seconds())
	e.d.Metrics.OpenPositions.Set(float64(opened))
	e.d.Metrics.Balance.Set(e.d.Ledger.Balance())
	e.d.Metrics.PortfolioVal.Set(e.portfolioValue())
	slog.Info("scan finished", append(logger.LogWithScan(ctx),
		"scanned", done, "failed", failed, "duration", dur.Round(time.Second).String())...)
}

func (e *Engine) buyCount() int {
	e.sigMu.Lock()
	defer e.sigMu.Unlock()
	return len(e.buySigs)
}

func (e *Engine) sellCount() int {
	e.sigMu.Lock()
	defer e.sigMu.Unlock()
	return len(e.sellSigs)
}

// portfolioValue marks the book to the latest known quotes.
func (e *Engine) portfolioValue() float64 {
	e.priceMu.RLock()
	prices := make(map[string]float64, len(e.prices))
	for k, v := range e.prices {
		prices[k] = v
	}
	e.priceMu.RUnlock()
	return e.d.Ledger.PortfolioValue(prices)
}

// refreshPrices pulls a spot quote for every symbol with an open position.
func (e *Engine) refreshPrices(ctx context.Context) {
	held := make(map[string]bool)
	for _, p := range e.d.Ledger.Positions() {
		held[p.Sym] = true
	}
	for sym := range held {
		price, err := e.d.Source.Spot(ctx, sym+"/USDT")
		if err != nil {
			slog.Warn("spot refresh failed", "sym", sym, "err", err)
			continue
		}
		e.priceMu.Lock()
		e.prices[sym] = price
		e.priceMu.Unlock()
	}
}

// checkExits marks open positions to the latest quotes and books any
// TP/SL crossings, then refreshes the dashboard.
func (e *Engine) checkExits() {
	anyClosed := false
	for _, p := range e.d.Ledger.Positions() {
		e.priceMu.RLock()
		price, ok := e.prices[p.Sym]
		e.priceMu.RUnlock()
		if !ok {
			continue
		}
		for _, c := range e.d.Ledger.UpdatePrice(p.Sym, price) {
			anyClosed = true
			e.d.Metrics.TradesClosed.WithLabelValues(string(c.Reason)).Inc()
			kind := "signal"
			if c.PnL <= 0 {
				kind = "short"
			}
			e.addLog(fmt.Sprintf("CLOSED %s %s | %s | %+.2f%% | %.0f USDT",
				strings.ToUpper(string(c.Direction)), c.Sym, c.Reason, c.PnLPct, c.Notional), kind)
			if e.d.Alerts != nil {
				e.d.Alerts.Notify(notification.TradeAlert{
					Action: "closed", Sym: c.Sym, Direction: c.Direction,
					Price: c.Exit, PnLPct: c.PnLPct, Reason: string(c.Reason),
				})
			}
		}
	}
	e.d.Metrics.OpenPositions.Set(float64(e.d.Ledger.OpenCount()))
	e.d.Metrics.Balance.Set(e.d.Ledger.Balance())
	e.d.Metrics.PortfolioVal.Set(e.portfolioValue())

	e.d.Bus.Publish("positions", e.positionsData())
	if anyClosed {
		e.d.Bus.Publish("stats", e.statsData())
		e.d.Bus.Publish("closed", e.closedData())
	}
}

// addLog appends to the main log ring (newest maxLogs entries kept).
func (e *Engine) addLog(msg, kind string) {
	entry := model.LogEntry{T: e.now().Format("15:04:05"), Msg: msg, Kind: kind}
	e.logMu.Lock()
	e.logs.Push(entry)
	e.logMu.Unlock()
	e.d.Bus.Publish("log", entry)
}

func (e *Engine) addScanLog(msg, kind string) {
	entry := model.LogEntry{T: e.now().Format("15:04:05"), Msg: msg, Kind: kind}
	e.logMu.Lock()
	e.scanLogs.Push(entry)
	e.logMu.Unlock()
	e.d.Bus.Publish("scanlog", entry)
}

func baseOf(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return symbol[:i]
	}
	return symbol
}
