package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestComponentTagsEntries(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	lg := New(zap.New(core))

	lg.Component("worker").Info("started")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "worker" {
		t.Fatalf("unexpected logger name %q", e.LoggerName)
	}
	fields := e.ContextMap()
	if fields["service"] != "aanmelden" || fields["component"] != "worker" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestInitFallsBackToInfo(t *testing.T) {
	lg, err := Init("nonsense", true)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if lg.Base.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("unknown level must fall back to info")
	}
	if !lg.Base.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info must be enabled")
	}
}
