// Package indicator implements the Heiken-Ashi transform and the
// Heiken-driven TD-Sequential setup counters as pure functions over
// bar slices. Re-running the pipeline over the same input yields
// identical output.
package indicator

import "td9scan/internal/model"

// SetupComplete is the saturation point of a TD-Sequential setup count;
// a counter sitting at this value marks a completed setup.
const SetupComplete = 9

// lookbackBars is the comparison offset of the TD-Sequential rule:
// each Heiken close compares against the close four bars earlier.
const lookbackBars = 4

// Augment computes Heiken-Ashi values and both TD-Sequential counters
// for every bar. The input is assumed time-ascending; an empty input
// returns nil.
func Augment(bars []model.Bar) []model.AugBar {
	if len(bars) == 0 {
		return nil
	}

	out := make([]model.AugBar, len(bars))
	for i, b := range bars {
		out[i].Bar = b
		out[i].HAClose = (b.Open + b.High + b.Low + b.Close) / 4
		if i == 0 {
			out[i].HAOpen = (b.Open + b.Close) / 2
		} else {
			out[i].HAOpen = (out[i-1].HAOpen + out[i-1].HAClose) / 2
		}
		out[i].HAHigh = max3(b.High, out[i].HAOpen, out[i].HAClose)
		out[i].HALow = min3(b.Low, out[i].HAOpen, out[i].HAClose)
	}

	// Setup counters: increment while the 4-bar comparison holds,
	// reset to zero otherwise, saturate at 9.
	buy, sell := 0, 0
	for i := range out {
		if i >= lookbackBars && out[i].HAClose < out[i-lookbackBars].HAClose {
			buy = minInt(buy+1, SetupComplete)
		} else {
			buy = 0
		}
		if i >= lookbackBars && out[i].HAClose > out[i-lookbackBars].HAClose {
			sell = minInt(sell+1, SetupComplete)
		} else {
			sell = 0
		}
		out[i].Buy9 = buy
		out[i].Sell9 = sell
	}
	return out
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
