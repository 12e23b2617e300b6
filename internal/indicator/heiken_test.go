package indicator

import (
	"testing"
	"time"

	"td9scan/internal/model"
)

// flatBars builds bars where O=H=L=C=price for each given price, so the
// Heiken close equals the raw price exactly.
func flatBars(prices ...float64) []model.Bar {
	bars := make([]model.Bar, len(prices))
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range prices {
		bars[i] = model.Bar{TS: ts.Add(time.Duration(i) * time.Hour), Open: p, High: p, Low: p, Close: p, Volume: 1}
	}
	return bars
}

func TestAugmentHeikenFormulas(t *testing.T) {
	bars := []model.Bar{
		{Open: 10, High: 14, Low: 8, Close: 12},
		{Open: 12, High: 16, Low: 11, Close: 15},
		{Open: 15, High: 15, Low: 9, Close: 10},
	}
	aug := Augment(bars)

	for i, b := range bars {
		want := (b.Open + b.High + b.Low + b.Close) / 4
		if aug[i].HAClose != want {
			t.Errorf("haClose[%d]: got %v, want %v", i, aug[i].HAClose, want)
		}
	}

	if want := (bars[0].Open + bars[0].Close) / 2; aug[0].HAOpen != want {
		t.Errorf("haOpen[0]: got %v, want %v", aug[0].HAOpen, want)
	}
	for i := 1; i < len(aug); i++ {
		want := (aug[i-1].HAOpen + aug[i-1].HAClose) / 2
		if aug[i].HAOpen != want {
			t.Errorf("haOpen[%d]: got %v, want %v", i, aug[i].HAOpen, want)
		}
	}

	// haHigh dominates raw high, haOpen and haClose; haLow mirrors.
	for i := range aug {
		if aug[i].HAHigh < aug[i].HAOpen || aug[i].HAHigh < aug[i].HAClose || aug[i].HAHigh < bars[i].High {
			t.Errorf("haHigh[%d]=%v below one of its components", i, aug[i].HAHigh)
		}
		if aug[i].HALow > aug[i].HAOpen || aug[i].HALow > aug[i].HAClose || aug[i].HALow > bars[i].Low {
			t.Errorf("haLow[%d]=%v above one of its components", i, aug[i].HALow)
		}
	}
}

func TestAugmentBuySaturatesAtNine(t *testing.T) {
	// Strictly decreasing closes: every bar after index 3 satisfies the
	// buy comparison, so the counter climbs and saturates at 9.
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 100 - float64(i)
	}
	aug := Augment(flatBars(prices...))

	last := aug[len(aug)-1]
	if last.Buy9 != 9 {
		t.Errorf("buy count on last bar: got %d, want 9", last.Buy9)
	}
	if last.Sell9 != 0 {
		t.Errorf("sell count on last bar: got %d, want 0", last.Sell9)
	}
	// First 4 bars can never count.
	for i := 0; i < 4; i++ {
		if aug[i].Buy9 != 0 || aug[i].Sell9 != 0 {
			t.Errorf("bar %d: counters %d/%d, want 0/0", i, aug[i].Buy9, aug[i].Sell9)
		}
	}
}

func TestAugmentCounterBounds(t *testing.T) {
	// Zig-zag series exercises resets in both directions.
	prices := []float64{100, 101, 99, 102, 98, 103, 97, 104, 96, 105, 95, 106, 94, 107, 93}
	aug := Augment(flatBars(prices...))

	for i, b := range aug {
		if b.Buy9 < 0 || b.Buy9 > 9 || b.Sell9 < 0 || b.Sell9 > 9 {
			t.Fatalf("bar %d: counters out of range: buy=%d sell=%d", i, b.Buy9, b.Sell9)
		}
		if i > 0 {
			buyGrew := b.Buy9 > aug[i-1].Buy9 && b.Buy9 > 1
			sellGrew := b.Sell9 > aug[i-1].Sell9 && b.Sell9 > 1
			if buyGrew && sellGrew {
				t.Errorf("bar %d: both counters extended a streak", i)
			}
		}
	}
}

func TestAugmentCounterReset(t *testing.T) {
	// Down for 6 bars, then a bounce above the 4-bar reference resets buy.
	prices := []float64{100, 99, 98, 97, 96, 95, 94, 200, 199}
	aug := Augment(flatBars(prices...))

	if got := aug[6].Buy9; got != 3 {
		t.Errorf("buy count before bounce: got %d, want 3", got)
	}
	if got := aug[7].Buy9; got != 0 {
		t.Errorf("buy count after bounce: got %d, want 0", got)
	}
	if got := aug[7].Sell9; got != 1 {
		t.Errorf("sell count after bounce: got %d, want 1", got)
	}
}

func TestAugmentDeterministic(t *testing.T) {
	prices := []float64{100, 101, 99, 102, 98, 103, 97, 104, 96, 105}
	bars := flatBars(prices...)

	a := Augment(bars)
	b := Augment(bars)
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("bar %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestAugmentEmpty(t *testing.T) {
	if got := Augment(nil); got != nil {
		t.Errorf("Augment(nil): got %v, want nil", got)
	}
}
