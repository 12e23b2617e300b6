package model

import "time"

// Bar is a single OHLCV candle. Prices are quote-currency floats; the
// feed guarantees strictly increasing timestamps.
type Bar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// AugBar is a Bar augmented with its Heiken-Ashi transform and the
// TD-Sequential setup counters derived from the Heiken closes.
type AugBar struct {
	Bar
	HAOpen  float64 `json:"ha_o"`
	HAClose float64 `json:"ha_c"`
	HAHigh  float64 `json:"ha_h"`
	HALow   float64 `json:"ha_l"`
	Buy9    int     `json:"buy9"`
	Sell9   int     `json:"sell9"`
}

// HABullish reports whether the Heiken-Ashi candle closed above its open.
func (b AugBar) HABullish() bool {
	return b.HAClose > b.HAOpen
}

// BackTestResult summarises a historical walk-forward over setup-9 entries.
type BackTestResult struct {
	Total   int     `json:"total"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"` // percent, 0 when Total == 0
}

// Level is a clustered support or resistance price.
// DistancePct is signed: negative means the level has been breached.
type Level struct {
	Price       float64 `json:"price"`
	TouchCount  int     `json:"touches"`
	DistancePct float64 `json:"dist"`
}
