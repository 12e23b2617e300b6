// Package backtest walks historical setup-9 completions forward and
// reports how often a fixed take-profit would have been hit before the
// stop-loss.
package backtest

import "td9scan/internal/model"

// Side selects which setup counter seeds the entries.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// TieBreak decides the outcome when one forward bar spans both the
// take-profit and the stop-loss.
type TieBreak int

const (
	// StopFirst treats the spanning bar as a loss (conservative default).
	StopFirst TieBreak = iota
	// TakeFirst treats the spanning bar as a win.
	TakeFirst
)

// Params are the fixed trade parameters applied to every entry.
type Params struct {
	TPFrac   float64 // take-profit fraction of entry, e.g. 0.20
	SLFrac   float64 // stop-loss fraction of entry, e.g. 0.05
	Window   int     // forward bars inspected per entry
	TieBreak TieBreak
}

// DefaultParams mirror the live trading exits: +20% TP, -5% SL, 20 bars.
func DefaultParams() Params {
	return Params{TPFrac: 0.20, SLFrac: 0.05, Window: 20, TieBreak: StopFirst}
}

// Run scans the augmented series for completed setups on the given side
// and simulates each entry over the forward window. Entries whose window
// would run past the end of the series are not counted.
func Run(bars []model.AugBar, side Side, p Params) model.BackTestResult {
	var res model.BackTestResult
	n := len(bars)

	for i := 4; i < n-p.Window-1; i++ {
		count := bars[i].Buy9
		if side == Sell {
			count = bars[i].Sell9
		}
		if count != 9 {
			continue
		}
		entry := bars[i].Close
		if entry <= 0 {
			continue
		}

		var tp, sl float64
		if side == Buy {
			tp = entry * (1 + p.TPFrac)
			sl = entry * (1 - p.SLFrac)
		} else {
			tp = entry * (1 - p.TPFrac)
			sl = entry * (1 + p.SLFrac)
		}

		res.Total++
		outcome := walkForward(bars[i+1:min(i+p.Window+1, n)], side, tp, sl, p.TieBreak)
		switch outcome {
		case outcomeWin:
			res.Wins++
		case outcomeOpen:
			// Neither exit fired: settle on the final close direction.
			final := bars[min(i+p.Window, n-1)].Close
			if side == Buy && final > entry {
				res.Wins++
			}
			if side == Sell && final < entry {
				res.Wins++
			}
		}
	}

	if res.Total > 0 {
		res.WinRate = float64(res.Wins) / float64(res.Total) * 100
	}
	return res
}

type outcome int

const (
	outcomeOpen outcome = iota
	outcomeWin
	outcomeLoss
)

func walkForward(window []model.AugBar, side Side, tp, sl float64, tie TieBreak) outcome {
	for _, b := range window {
		var hitTP, hitSL bool
		if side == Buy {
			hitTP = b.High >= tp
			hitSL = b.Low <= sl
		} else {
			hitTP = b.Low <= tp
			hitSL = b.High >= sl
		}
		switch {
		case hitTP && hitSL:
			if tie == TakeFirst {
				return outcomeWin
			}
			return outcomeLoss
		case hitTP:
			return outcomeWin
		case hitSL:
			return outcomeLoss
		}
	}
	return outcomeOpen
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
