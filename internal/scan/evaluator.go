package scan

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"td9scan/internal/backtest"
	"td9scan/internal/indicator"
	"td9scan/internal/levels"
	"td9scan/internal/marketdata"
	"td9scan/internal/model"
)

// ErrEvalFailed wraps any failure to produce a verdict for a symbol.
var ErrEvalFailed = fmt.Errorf("evaluation failed")

const (
	evalInterval = "1h"
	evalLimit    = 1000

	// DefaultWRThresh is the minimum backtest win rate (percent) a
	// setup must carry before it is considered tradeable.
	DefaultWRThresh = 50.0
	// DefaultDistMax is the maximum distance (percent) from the
	// support/resistance level for a setup to pass.
	DefaultDistMax = 5.0
)

// Evaluator scores a single symbol: Heiken-Ashi TD-Sequential counters,
// a walk-forward backtest when a setup completed, and support/resistance
// proximity. The win-rate and distance thresholds are adjustable at
// runtime from the dashboard.
type Evaluator struct {
	src    marketdata.Source
	finder *levels.Finder
	bt     backtest.Params

	mu       sync.RWMutex
	wrThresh float64
	distMax  float64
}

// NewEvaluator builds an evaluator with the default thresholds.
func NewEvaluator(src marketdata.Source) *Evaluator {
	return &Evaluator{
		src:      src,
		finder:   levels.NewFinder(),
		bt:       backtest.DefaultParams(),
		wrThresh: DefaultWRThresh,
		distMax:  DefaultDistMax,
	}
}

// SetThresholds updates the admission tunables. Values outside the
// dashboard ranges (win rate 0-100, distance 1-20) are clamped.
func (e *Evaluator) SetThresholds(wrThresh, distMax float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wrThresh = clamp(wrThresh, 0, 100)
	e.distMax = clamp(distMax, 1, 20)
}

// Thresholds returns the current admission tunables.
func (e *Evaluator) Thresholds() (wrThresh, distMax float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.wrThresh, e.distMax
}

// Evaluate fetches 1h history for symbol and produces a scan verdict.
// Backtests only run when the latest bar completed a 9-count setup.
func (e *Evaluator) Evaluate(ctx context.Context, symbol string) (*model.Verdict, error) {
	bars, err := e.src.Bars(ctx, symbol, evalInterval, evalLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEvalFailed, symbol, err)
	}
	if len(bars) < marketdata.MinBars {
		return nil, fmt.Errorf("%w: %s: only %d bars", ErrEvalFailed, symbol, len(bars))
	}

	aug := indicator.Augment(bars)
	last := aug[len(aug)-1]
	price := last.Close

	var buyBT, sellBT model.BackTestResult
	if last.Buy9 == indicator.SetupComplete {
		buyBT = backtest.Run(aug, backtest.Buy, e.bt)
	}
	if last.Sell9 == indicator.SetupComplete {
		sellBT = backtest.Run(aug, backtest.Sell, e.bt)
	}

	sup := e.finder.Support(aug)
	res := e.finder.Resistance(aug)

	wrThresh, distMax := e.Thresholds()
	bwrOK := buyBT.WinRate >= wrThresh
	swrOK := sellBT.WinRate >= wrThresh
	suppOK := sup.DistancePct > 0 && sup.DistancePct <= distMax
	resOK := res.DistancePct > 0 && res.DistancePct <= distMax

	v := &model.Verdict{
		Sym:    baseAsset(symbol),
		Full:   symbol,
		Price:  price,
		HABull: last.HABullish(),
		Buy9:   last.Buy9,
		Sell9:  last.Sell9,

		BuyWR:    buyBT.WinRate,
		BuyTotal: buyBT.Total,
		BuyWins:  buyBT.Wins,
		BuyWROK:  bwrOK,

		SellWR:    sellBT.WinRate,
		SellTotal: sellBT.Total,
		SellWins:  sellBT.Wins,
		SellWROK:  swrOK,

		Support:     sup.Price,
		SupportTC:   sup.TouchCount,
		SupportDist: sup.DistancePct,
		SupportOK:   suppOK,

		Resistance:     res.Price,
		ResistanceTC:   res.TouchCount,
		ResistanceDist: res.DistancePct,
		ResistanceOK:   resOK,

		BuyPassed:  last.Buy9 == indicator.SetupComplete && bwrOK && suppOK,
		SellPassed: last.Sell9 == indicator.SetupComplete && swrOK && resOK,
		Days:       math.Round(float64(len(aug))/24*10) / 10,
	}
	return v, nil
}

// baseAsset turns "BTC/USDT" into "BTC".
func baseAsset(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return symbol[:i]
	}
	return symbol
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
