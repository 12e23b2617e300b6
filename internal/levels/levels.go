// Package levels finds clustered support and resistance prices from
// pivot extrema over a trailing window of bars.
package levels

import "td9scan/internal/model"

const (
	// defaultLookback is the number of trailing bars inspected.
	defaultLookback = 100
	// defaultTolerance is the fractional distance within which two
	// pivots count as touches of the same level.
	defaultTolerance = 0.015
)

// Finder locates support/resistance levels. The zero value is not
// usable; construct with NewFinder.
type Finder struct {
	lookback  int
	tolerance float64
}

// NewFinder returns a Finder with the standard 100-bar lookback and
// 1.5% clustering tolerance.
func NewFinder() *Finder {
	return &Finder{lookback: defaultLookback, tolerance: defaultTolerance}
}

// Support returns the strongest clustered pivot-low level below (or
// around) the last close. DistancePct is positive while price holds
// above the level and negative once it is breached.
func (f *Finder) Support(bars []model.AugBar) model.Level {
	lows := f.window(bars, func(b model.AugBar) float64 { return b.Low })
	pivots := pivotLows(lows)

	var level float64
	var touches int
	if len(pivots) == 0 {
		level, touches = minOf(lows), 1
	} else {
		level, touches = bestCluster(pivots, f.tolerance)
	}

	price := bars[len(bars)-1].Close
	return model.Level{
		Price:       level,
		TouchCount:  touches,
		DistancePct: (price - level) / level * 100,
	}
}

// Resistance mirrors Support over pivot highs. DistancePct is positive
// while price holds below the level.
func (f *Finder) Resistance(bars []model.AugBar) model.Level {
	highs := f.window(bars, func(b model.AugBar) float64 { return b.High })
	pivots := pivotHighs(highs)

	var level float64
	var touches int
	if len(pivots) == 0 {
		level, touches = maxOf(highs), 1
	} else {
		level, touches = bestCluster(pivots, f.tolerance)
	}

	price := bars[len(bars)-1].Close
	return model.Level{
		Price:       level,
		TouchCount:  touches,
		DistancePct: (level - price) / price * 100,
	}
}

func (f *Finder) window(bars []model.AugBar, get func(model.AugBar) float64) []float64 {
	start := 0
	if len(bars) > f.lookback {
		start = len(bars) - f.lookback
	}
	vals := make([]float64, 0, len(bars)-start)
	for _, b := range bars[start:] {
		vals = append(vals, get(b))
	}
	return vals
}

// pivotLows returns values strictly below both neighbours on each side,
// in series order.
func pivotLows(vals []float64) []float64 {
	var pivots []float64
	for i := 2; i < len(vals)-2; i++ {
		v := vals[i]
		if v < vals[i-1] && v < vals[i-2] && v < vals[i+1] && v < vals[i+2] {
			pivots = append(pivots, v)
		}
	}
	return pivots
}

func pivotHighs(vals []float64) []float64 {
	var pivots []float64
	for i := 2; i < len(vals)-2; i++ {
		v := vals[i]
		if v > vals[i-1] && v > vals[i-2] && v > vals[i+1] && v > vals[i+2] {
			pivots = append(pivots, v)
		}
	}
	return pivots
}

// bestCluster picks the pivot with the most neighbours within tol
// fractional distance. Ties go to the earlier pivot.
func bestCluster(pivots []float64, tol float64) (level float64, touches int) {
	level, touches = pivots[0], 1
	for _, ref := range pivots {
		count := 0
		for _, p := range pivots {
			if abs(p-ref)/ref <= tol {
				count++
			}
		}
		if count > touches {
			touches = count
			level = ref
		}
	}
	return level, touches
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
