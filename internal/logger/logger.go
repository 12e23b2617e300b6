// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and propagates a
// scan-cycle ID through context.Context so every log line of one scan
// pass can be correlated.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

type ctxKey string

const scanIDKey ctxKey = "scan_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// WithScanID stores a scan-cycle ID in the context.
func WithScanID(ctx context.Context, scanID string) context.Context {
	return context.WithValue(ctx, scanIDKey, scanID)
}

// ScanID extracts the scan-cycle ID from context. Returns "" if not set.
func ScanID(ctx context.Context) string {
	if v, ok := ctx.Value(scanIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateScanID creates a scan-cycle ID from the cycle counter and its
// start time. Format: "scan{n}-{unixNano}".
func GenerateScanID(n int, ts time.Time) string {
	return fmt.Sprintf("scan%d-%d", n, ts.UnixNano())
}

// LogWithScan returns slog attributes including the scan ID from context.
// Usage: slog.Info("msg", logger.LogWithScan(ctx)...)
func LogWithScan(ctx context.Context) []any {
	sid := ScanID(ctx)
	if sid == "" {
		return nil
	}
	return []any{slog.String("scan_id", sid)}
}
