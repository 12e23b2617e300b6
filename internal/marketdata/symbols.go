package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

// Symbols lists active USDT spot pairs in catalog form ("BTC/USDT"),
// sorted by 24h quote volume descending when ticker data is available.
func (b *Binance) Symbols(ctx context.Context) ([]string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	var info struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Status     string `json:"status"`
			IsSpot     bool   `json:"isSpotTradingAllowed"`
		} `json:"symbols"`
	}
	if err := b.getJSON(ctx, "/api/v3/exchangeInfo", &info); err != nil {
		return nil, fmt.Errorf("%w: exchangeInfo: %v", ErrDataUnavailable, err)
	}

	pairs := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.QuoteAsset != "USDT" || s.Status != "TRADING" || !s.IsSpot {
			continue
		}
		pairs = append(pairs, s.BaseAsset+"/USDT")
	}

	// Volume sort is best-effort: an unsorted catalog is still usable.
	if vols, err := b.quoteVolumes(ctx); err == nil {
		sort.SliceStable(pairs, func(i, j int) bool {
			return vols[apiSymbol(pairs[i])] > vols[apiSymbol(pairs[j])]
		})
	}
	return pairs, nil
}

func (b *Binance) quoteVolumes(ctx context.Context) (map[string]float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var tickers []struct {
		Symbol      string `json:"symbol"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := b.getJSON(ctx, "/api/v3/ticker/24hr", &tickers); err != nil {
		return nil, err
	}
	vols := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		v, _ := strconv.ParseFloat(t.QuoteVolume, 64)
		vols[t.Symbol] = v
	}
	return vols, nil
}
