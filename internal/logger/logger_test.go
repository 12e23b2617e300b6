package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestScanID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No scan ID set
	if sid := ScanID(ctx); sid != "" {
		t.Errorf("expected empty scan id, got %q", sid)
	}

	// Set and retrieve
	ctx = WithScanID(ctx, "scan7-123")
	if sid := ScanID(ctx); sid != "scan7-123" {
		t.Errorf("expected 'scan7-123', got %q", sid)
	}
}

func TestGenerateScanID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	sid := GenerateScanID(42, ts)

	if !strings.HasPrefix(sid, "scan42-") {
		t.Errorf("expected scan id to start with 'scan42-', got %s", sid)
	}
	if !strings.Contains(sid, "123456789") {
		t.Errorf("expected scan id to contain nanoseconds, got %s", sid)
	}
}

func TestLogWithScan(t *testing.T) {
	ctx := context.Background()

	attrs := LogWithScan(ctx)
	if attrs != nil {
		t.Errorf("expected nil attrs when no scan id, got %v", attrs)
	}

	ctx = WithScanID(ctx, "scan1-1")
	attrs = LogWithScan(ctx)
	if len(attrs) == 0 {
		t.Fatal("expected non-empty attrs with scan id set")
	}
}
