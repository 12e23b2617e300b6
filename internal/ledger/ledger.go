// Package ledger simulates trade execution against live prices: a
// paper book keyed by (symbol, direction), a quote-currency balance,
// and an append-only record of closed trades.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"td9scan/internal/model"
)

// TieBreak decides the exit when one bar spans both the take-profit
// and the stop-loss level.
type TieBreak int

const (
	// StopFirst assumes the adverse move happened first (conservative).
	StopFirst TieBreak = iota
	TakeFirst
)

// Config holds the simulation parameters.
type Config struct {
	InitialBalance float64 // quote currency, default 50000
	Notional       float64 // per-trade commitment, default 500

	LongTPMult  float64 // default 1.20
	LongSLMult  float64 // default 0.95
	ShortTPMult float64 // default 0.80
	ShortSLMult float64 // default 1.05

	TieBreak TieBreak
}

// DefaultConfig returns the stock simulation parameters.
func DefaultConfig() Config {
	return Config{
		InitialBalance: 50000,
		Notional:       500,
		LongTPMult:     1.20,
		LongSLMult:     0.95,
		ShortTPMult:    0.80,
		ShortSLMult:    1.05,
		TieBreak:       StopFirst,
	}
}

// Ledger is the thread-safe paper book. Exits fill at the exact TP/SL
// level price, not at the observed price that crossed it.
type Ledger struct {
	mu        sync.RWMutex
	cfg       Config
	balance   float64
	positions map[string]*model.Position
	closed    []model.ClosedTrade

	now func() time.Time // injectable clock
}

// New builds a ledger; zero-valued config fields fall back to defaults.
func New(cfg Config) *Ledger {
	def := DefaultConfig()
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = def.InitialBalance
	}
	if cfg.Notional <= 0 {
		cfg.Notional = def.Notional
	}
	if cfg.LongTPMult <= 0 {
		cfg.LongTPMult = def.LongTPMult
	}
	if cfg.LongSLMult <= 0 {
		cfg.LongSLMult = def.LongSLMult
	}
	if cfg.ShortTPMult <= 0 {
		cfg.ShortTPMult = def.ShortTPMult
	}
	if cfg.ShortSLMult <= 0 {
		cfg.ShortSLMult = def.ShortSLMult
	}
	return &Ledger{
		cfg:       cfg,
		balance:   cfg.InitialBalance,
		positions: make(map[string]*model.Position),
		now:       time.Now,
	}
}

// OpenTrade opens a new position at price. It refuses a duplicate
// (symbol, direction) entry and an entry the balance cannot cover.
// The returned message is a human-readable dashboard log line.
func (l *Ledger) OpenTrade(sym string, price float64, direction model.Direction, winRate float64) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if price <= 0 {
		return false, fmt.Sprintf("%s: bad price %.6f", sym, price)
	}
	key := sym + "_" + string(direction)
	if p, ok := l.positions[key]; ok && p.Status == model.StatusOpen {
		return false, fmt.Sprintf("%s %s already open", sym, direction)
	}
	size := l.cfg.Notional
	if l.balance < size {
		return false, fmt.Sprintf("insufficient balance (%.0f)", l.balance)
	}

	var tp, sl float64
	if direction == model.Long {
		tp = price * l.cfg.LongTPMult
		sl = price * l.cfg.LongSLMult
	} else {
		tp = price * l.cfg.ShortTPMult
		sl = price * l.cfg.ShortSLMult
	}

	now := l.now()
	l.positions[key] = &model.Position{
		Sym:       sym,
		Direction: direction,
		Entry:     price,
		Qty:       size / price,
		Notional:  size,
		TP:        tp,
		SL:        sl,
		Current:   price,
		HighWater: price,
		LowWater:  price,
		WinRate:   winRate,
		Status:    model.StatusOpen,
		EntryTime: now,
		Opened:    now.Format("15:04:05"),
	}
	l.balance -= size

	label := "LONG"
	if direction == model.Short {
		label = "SHORT"
	}
	return true, fmt.Sprintf("%s %s @ %.6f [%.0f USDT | WR:%.1f%%]", label, sym, price, size, winRate)
}

// UpdatePrice marks both directions of sym to price and closes whatever
// crossed its exit level. Returned trades are already booked.
func (l *Ledger) UpdatePrice(sym string, price float64) []model.ClosedTrade {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []model.ClosedTrade
	for _, d := range []model.Direction{model.Long, model.Short} {
		p, ok := l.positions[sym+"_"+string(d)]
		if !ok || p.Status != model.StatusOpen {
			continue
		}
		l.mark(p, price)

		var reason model.ExitReason
		var exit float64
		if d == model.Long {
			switch {
			case price <= p.SL:
				reason, exit = model.ExitStopLoss, p.SL
			case price >= p.TP:
				reason, exit = model.ExitTakeProfit, p.TP
			}
		} else {
			switch {
			case price >= p.SL:
				reason, exit = model.ExitStopLoss, p.SL
			case price <= p.TP:
				reason, exit = model.ExitTakeProfit, p.TP
			}
		}
		if reason != "" {
			out = append(out, l.close(p, exit, reason))
		}
	}
	return out
}

// UpdateBar evaluates one completed bar's range against both directions
// of sym. When the bar spans both levels the configured tie-break picks
// the exit; the default is stop-loss first.
func (l *Ledger) UpdateBar(sym string, high, low float64) []model.ClosedTrade {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []model.ClosedTrade
	for _, d := range []model.Direction{model.Long, model.Short} {
		p, ok := l.positions[sym+"_"+string(d)]
		if !ok || p.Status != model.StatusOpen {
			continue
		}

		var hitTP, hitSL bool
		if d == model.Long {
			hitSL = low <= p.SL
			hitTP = high >= p.TP
		} else {
			hitSL = high >= p.SL
			hitTP = low <= p.TP
		}
		switch {
		case hitSL && (!hitTP || l.cfg.TieBreak == StopFirst):
			l.mark(p, p.SL)
			out = append(out, l.close(p, p.SL, model.ExitStopLoss))
		case hitTP:
			l.mark(p, p.TP)
			out = append(out, l.close(p, p.TP, model.ExitTakeProfit))
		}
	}
	return out
}

// CloseManual exits one position at price with reason "manual".
func (l *Ledger) CloseManual(sym string, direction model.Direction, price float64) (model.ClosedTrade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[sym+"_"+string(direction)]
	if !ok || p.Status != model.StatusOpen {
		return model.ClosedTrade{}, false
	}
	l.mark(p, price)
	return l.close(p, price, model.ExitManual), true
}

// mark refreshes the unrealised view of p at price. Caller holds the lock.
func (l *Ledger) mark(p *model.Position, price float64) {
	p.Current = price
	if price > p.HighWater {
		p.HighWater = price
	}
	if price < p.LowWater {
		p.LowWater = price
	}
	if p.Direction == model.Long {
		p.PnL = (price - p.Entry) * p.Qty
	} else {
		p.PnL = (p.Entry - price) * p.Qty
	}
	p.PnLPct = p.PnL / p.Notional * 100
}

// close books the exit at the given fill price. Longs credit the full
// proceeds; shorts credit notional plus pnl, floored at zero so a
// runaway squeeze cannot take the balance negative. Caller holds the lock.
func (l *Ledger) close(p *model.Position, exit float64, reason model.ExitReason) model.ClosedTrade {
	if p.Direction == model.Long {
		p.PnL = (exit - p.Entry) * p.Qty
	} else {
		p.PnL = (p.Entry - exit) * p.Qty
	}
	p.PnLPct = p.PnL / p.Notional * 100
	p.Current = exit

	var credit float64
	if p.Direction == model.Long {
		credit = exit * p.Qty
	} else {
		credit = p.Notional + p.PnL
		if credit < 0 {
			credit = 0
		}
	}
	l.balance += credit
	p.Status = model.StatusClosed

	now := l.now()
	rec := model.ClosedTrade{
		Position:    *p,
		Exit:        exit,
		Reason:      reason,
		ExitTime:    now,
		Closed:      now.Format("15:04:05"),
		DurationSec: now.Sub(p.EntryTime).Seconds(),
	}
	l.closed = append(l.closed, rec)
	delete(l.positions, p.Key())
	return rec
}

// InitialBalance returns the configured starting balance.
func (l *Ledger) InitialBalance() float64 {
	return l.cfg.InitialBalance
}

// Balance returns the free quote-currency balance.
func (l *Ledger) Balance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// HasOpen reports whether (sym, direction) is currently held.
func (l *Ledger) HasOpen(sym string, direction model.Direction) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[sym+"_"+string(direction)]
	return ok && p.Status == model.StatusOpen
}

// PortfolioValue values the whole book: free balance plus each open
// position marked at prices, falling back to the entry price for
// symbols with no quote.
func (l *Ledger) PortfolioValue(prices map[string]float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := l.balance
	for _, p := range l.positions {
		if p.Status != model.StatusOpen {
			continue
		}
		pr, ok := prices[p.Sym]
		if !ok {
			pr = p.Entry
		}
		if p.Direction == model.Long {
			total += p.Qty * pr
		} else {
			total += p.Notional + (p.Entry-pr)*p.Qty
		}
	}
	return total
}

// Positions returns a copy of the open book, sorted by symbol then
// direction for stable dashboard rendering.
func (l *Ledger) Positions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sym != out[j].Sym {
			return out[i].Sym < out[j].Sym
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}

// Closed returns a copy of the closed-trade record, oldest first.
func (l *Ledger) Closed() []model.ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]model.ClosedTrade, len(l.closed))
	copy(cp, l.closed)
	return cp
}

// Stats aggregates the closed record. Wins are trades with positive
// pnl; the profit factor is gross wins over gross losses, zero when
// there are no losses.
func (l *Ledger) Stats() model.Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := model.Stats{Total: len(l.closed)}
	if s.Total == 0 {
		return s
	}
	var winPnL, lossPnL, retSum float64
	for _, t := range l.closed {
		s.TotalPnL += t.PnL
		retSum += t.PnLPct
		if t.PnL > 0 {
			s.Wins++
			winPnL += t.PnL
		} else {
			s.Losses++
			lossPnL += -t.PnL
		}
	}
	s.WinRate = float64(s.Wins) / float64(s.Total) * 100
	s.AvgReturnPct = retSum / float64(s.Total)
	if lossPnL > 0 {
		s.ProfitFactor = winPnL / lossPnL
	}
	return s
}
