// Package notification delivers trade alerts to external channels
// (Telegram, generic webhooks). Delivery is best-effort: a failed or
// slow channel never blocks the scan loop.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"td9scan/internal/model"
)

// TradeAlert describes one book event worth telling a human about.
type TradeAlert struct {
	Action    string          `json:"action"` // "opened" or "closed"
	Sym       string          `json:"sym"`
	Direction model.Direction `json:"direction"`
	Price     float64         `json:"price"`
	PnLPct    float64         `json:"pnl_pct,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Text renders the alert as a one-line human message.
func (a TradeAlert) Text() string {
	dir := "LONG"
	if a.Direction == model.Short {
		dir = "SHORT"
	}
	if a.Action == "opened" {
		return fmt.Sprintf("%s %s opened @ %.6f", dir, a.Sym, a.Price)
	}
	return fmt.Sprintf("%s %s closed @ %.6f | %s | %+.2f%%", dir, a.Sym, a.Price, a.Reason, a.PnLPct)
}

// Notifier is the interface for all delivery backends.
type Notifier interface {
	Send(ctx context.Context, alert TradeAlert) error
}

// Multi fans one alert out to several backends in the background,
// logging failures instead of returning them.
type Multi struct {
	backends []Notifier
	timeout  time.Duration
}

// NewMulti builds a fan-out notifier. With no backends it is inert.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends, timeout: 10 * time.Second}
}

// Notify dispatches asynchronously to every backend.
func (m *Multi) Notify(alert TradeAlert) {
	for _, n := range m.backends {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			if err := n.Send(ctx, alert); err != nil {
				slog.Warn("alert delivery failed", "sym", alert.Sym, "err", err)
			}
		}(n)
	}
}
