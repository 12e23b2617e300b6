// Package marketdata fetches OHLCV bars and spot prices for tradable
// symbols. Callers treat every call as potentially blocking; all methods
// honour context cancellation.
package marketdata

import (
	"context"
	"errors"

	"td9scan/internal/model"
)

// MinBars is the minimum usable history: shorter series are reported
// as unavailable rather than scanned.
const MinBars = 50

// ErrDataUnavailable marks a symbol that cannot be evaluated this
// cycle: upstream error, timeout, or a series shorter than MinBars.
var ErrDataUnavailable = errors.New("market data unavailable")

// Source provides bars and spot prices. Implementations must return
// time-ascending bars and positive spot prices.
type Source interface {
	// Bars fetches up to limit OHLCV bars for symbol at the given
	// interval (e.g. "1h"). Fails with ErrDataUnavailable when fewer
	// than MinBars are available.
	Bars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error)

	// Spot fetches the latest traded price for symbol.
	Spot(ctx context.Context, symbol string) (float64, error)
}
