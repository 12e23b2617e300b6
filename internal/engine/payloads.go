package engine

import (
	"sort"

	"td9scan/internal/model"
)

// Wire payloads for the dashboard event stream and /state.

type statusPayload struct {
	Text     string `json:"text"`
	Scanning bool   `json:"scanning"`
}

type countdownPayload struct {
	Text     string `json:"text"`
	Interval int    `json:"interval"` // minutes
	Scan     int    `json:"scan"`
}

type progressPayload struct {
	Pct float64 `json:"pct"`
}

type backtestPayload struct {
	Results []model.Verdict `json:"results"`
}

type signalsPayload struct {
	Buys  []model.Verdict `json:"buys"`
	Sells []model.Verdict `json:"sells"`
}

type positionsPayload struct {
	Positions []model.Position `json:"positions"`
	Balance   float64          `json:"balance"`
	Portfolio float64          `json:"portfolio"`
	Initial   float64          `json:"initial"`
}

type closedPayload struct {
	Closed []model.ClosedTrade `json:"closed"`
}

type statsPayload struct {
	model.Stats
	Balance   float64             `json:"balance"`
	Initial   float64             `json:"initial"`
	Portfolio float64             `json:"portfolio"`
	Closed    []model.ClosedTrade `json:"closed"`
}

// StatePayload is the full dashboard snapshot served by /state.
type StatePayload struct {
	Running    bool             `json:"running"`
	Positions  positionsPayload `json:"positions"`
	Signals    signalsPayload   `json:"signals"`
	Backtest   backtestPayload  `json:"backtest"`
	Stats      statsPayload     `json:"stats"`
	ClosedData closedPayload    `json:"closed_data"`
	Logs       []model.LogEntry `json:"logs"`
	ScanLogs   []model.LogEntry `json:"scan_logs"`
}

// backtestData lists every completed setup of the last scan, one row
// per (symbol, side).
func (e *Engine) backtestData() backtestPayload {
	e.sigMu.Lock()
	defer e.sigMu.Unlock()
	rows := make([]model.Verdict, 0, len(e.allResults))
	for _, v := range e.allResults {
		rows = append(rows, *v)
	}
	return backtestPayload{Results: rows}
}

// signalsData lists both signal sets sorted by backtest win rate.
func (e *Engine) signalsData() signalsPayload {
	e.sigMu.Lock()
	buys := make([]model.Verdict, 0, len(e.buySigs))
	for _, v := range e.buySigs {
		buys = append(buys, *v)
	}
	sells := make([]model.Verdict, 0, len(e.sellSigs))
	for _, v := range e.sellSigs {
		sells = append(sells, *v)
	}
	e.sigMu.Unlock()

	sort.Slice(buys, func(i, j int) bool { return buys[i].BuyWR > buys[j].BuyWR })
	sort.Slice(sells, func(i, j int) bool { return sells[i].SellWR > sells[j].SellWR })
	return signalsPayload{Buys: buys, Sells: sells}
}

// positionsData marks every open position at the latest known quote
// and annotates the distance to each exit level.
func (e *Engine) positionsData() positionsPayload {
	e.priceMu.RLock()
	prices := make(map[string]float64, len(e.prices))
	for k, v := range e.prices {
		prices[k] = v
	}
	e.priceMu.RUnlock()

	rows := e.d.Ledger.Positions()
	for i := range rows {
		p := &rows[i]
		price, ok := prices[p.Sym]
		if !ok {
			price = p.Entry
		}
		p.Current = price
		if p.Direction == model.Long {
			p.PnL = (price - p.Entry) * p.Qty
			p.DistTP = (p.TP - price) / price * 100
			p.DistSL = (price - p.SL) / price * 100
		} else {
			p.PnL = (p.Entry - price) * p.Qty
			p.DistTP = (price - p.TP) / price * 100
			p.DistSL = (p.SL - price) / price * 100
		}
		p.PnLPct = p.PnL / p.Notional * 100
	}
	return positionsPayload{
		Positions: rows,
		Balance:   e.d.Ledger.Balance(),
		Portfolio: e.d.Ledger.PortfolioValue(prices),
		Initial:   e.d.Ledger.InitialBalance(),
	}
}

// closedData returns the last 100 closed trades, newest first.
func (e *Engine) closedData() closedPayload {
	return closedPayload{Closed: recentClosed(e.d.Ledger.Closed(), 100)}
}

// statsData aggregates the closed record plus the 30 most recent exits.
func (e *Engine) statsData() statsPayload {
	e.priceMu.RLock()
	prices := make(map[string]float64, len(e.prices))
	for k, v := range e.prices {
		prices[k] = v
	}
	e.priceMu.RUnlock()

	return statsPayload{
		Stats:     e.d.Ledger.Stats(),
		Balance:   e.d.Ledger.Balance(),
		Initial:   e.d.Ledger.InitialBalance(),
		Portfolio: e.d.Ledger.PortfolioValue(prices),
		Closed:    recentClosed(e.d.Ledger.Closed(), 30),
	}
}

// Snapshot builds the full /state payload.
func (e *Engine) Snapshot() StatePayload {
	e.logMu.Lock()
	logs := e.logs.Tail(200)
	scanLogs := e.scanLogs.Tail(500)
	e.logMu.Unlock()

	return StatePayload{
		Running:    e.Running(),
		Positions:  e.positionsData(),
		Signals:    e.signalsData(),
		Backtest:   e.backtestData(),
		Stats:      e.statsData(),
		ClosedData: e.closedData(),
		Logs:       logs,
		ScanLogs:   scanLogs,
	}
}

// recentClosed returns the newest n trades, newest first.
func recentClosed(all []model.ClosedTrade, n int) []model.ClosedTrade {
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]model.ClosedTrade, len(all))
	for i, t := range all {
		out[len(all)-1-i] = t
	}
	return out
}
