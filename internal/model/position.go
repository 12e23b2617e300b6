package model

import "time"

// Direction of a simulated position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// ExitReason explains why a position left the book.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitManual     ExitReason = "manual"
)

// Position status transitions open → closed, never back.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Position is a simulated holding. The ledger keys positions by
// (symbol, direction) so one long and one short may coexist per symbol.
type Position struct {
	Sym       string    `json:"sym"`
	Direction Direction `json:"direction"`
	Entry     float64   `json:"entry"`
	Qty       float64   `json:"qty"`
	Notional  float64   `json:"size"` // quote currency committed at entry
	TP        float64   `json:"tp"`
	SL        float64   `json:"sl"`
	Current   float64   `json:"cur"`
	PnL       float64   `json:"pnl"`     // unrealised, direction-signed
	PnLPct    float64   `json:"pnl_pct"` // relative to notional
	HighWater float64   `json:"high_water"`
	LowWater  float64   `json:"low_water"`
	WinRate   float64   `json:"winrate"` // backtest win-rate at entry
	Status    string    `json:"status"`
	EntryTime time.Time `json:"entry_time"`
	Opened    string    `json:"time"` // HH:MM:SS for the dashboard

	// Distance to TP/SL in percent, filled when building the positions payload.
	DistTP float64 `json:"dtp,omitempty"`
	DistSL float64 `json:"dsl,omitempty"`
}

// Key returns the ledger map key for this position: "sym_direction".
func (p *Position) Key() string {
	return p.Sym + "_" + string(p.Direction)
}

// ClosedTrade is the exit snapshot of a position.
type ClosedTrade struct {
	Position
	Exit        float64    `json:"exit"`
	Reason      ExitReason `json:"reason"`
	ExitTime    time.Time  `json:"exit_time"`
	Closed      string     `json:"close_time"` // HH:MM:SS for the dashboard
	DurationSec float64    `json:"duration_sec"`
}

// Stats aggregates all closed trades.
type Stats struct {
	Total        int     `json:"total"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"wr"` // percent
	AvgReturnPct float64 `json:"avg_return_pct"`
	TotalPnL     float64 `json:"pnl"`
	ProfitFactor float64 `json:"profit_factor"` // sum(win pnl) / |sum(loss pnl)|
}

// LogEntry is one dashboard log line.
// Kind is one of: normal, signal, short, header, err.
type LogEntry struct {
	T    string `json:"t"` // HH:MM:SS
	Msg  string `json:"msg"`
	Kind string `json:"kind"`
}
