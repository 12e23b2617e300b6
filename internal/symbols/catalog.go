// Package symbols maintains the scan universe: USDT spot pairs from
// the exchange, capped and cached, with a static fallback so a scan
// can still run when the listing endpoint is down.
package symbols

import (
	"context"
	"log/slog"
	"sync"
)

// MaxSymbols caps the scan universe.
const MaxSymbols = 500

// Lister names exchange-side symbol discovery.
type Lister interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Fallback is the hand-picked universe used when discovery fails.
var Fallback = []string{
	"BTC/USDT", "ETH/USDT", "BNB/USDT", "XRP/USDT", "SOL/USDT", "ADA/USDT",
	"DOGE/USDT", "DOT/USDT", "LINK/USDT", "LTC/USDT", "TRX/USDT", "BCH/USDT",
	"XLM/USDT", "AVAX/USDT", "ATOM/USDT", "UNI/USDT", "AAVE/USDT", "MATIC/USDT",
	"NEAR/USDT", "ARB/USDT", "OP/USDT", "SUI/USDT", "INJ/USDT", "TON/USDT",
	"PEPE/USDT", "BONK/USDT", "WIF/USDT", "SHIB/USDT", "FLOKI/USDT", "TIA/USDT",
	"HBAR/USDT", "FET/USDT", "RENDER/USDT", "TAO/USDT", "ENA/USDT", "WLD/USDT",
}

// Catalog resolves and caches the scan universe. A non-empty static
// list (from configuration) bypasses discovery entirely.
type Catalog struct {
	lister Lister
	static []string

	mu     sync.Mutex
	cached []string
}

// NewCatalog builds a catalog. static, when non-empty, pins the
// universe and lister is never consulted.
func NewCatalog(lister Lister, static []string) *Catalog {
	return &Catalog{lister: lister, static: capList(static)}
}

// Resolve returns the scan universe. The first successful discovery is
// cached for the life of the process; failures fall back to the static
// default list.
func (c *Catalog) Resolve(ctx context.Context) []string {
	if len(c.static) > 0 {
		return c.static
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cached) > 0 {
		return c.cached
	}
	if c.lister != nil {
		pairs, err := c.lister.Symbols(ctx)
		if err == nil && len(pairs) > 0 {
			c.cached = capList(pairs)
			slog.Info("symbol universe resolved", "count", len(c.cached))
			return c.cached
		}
		slog.Warn("symbol discovery failed, using fallback", "err", err)
	}
	return Fallback
}

func capList(s []string) []string {
	if len(s) > MaxSymbols {
		return s[:MaxSymbols]
	}
	return s
}
