package logger

import (
	"errors"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCriticalLogsAtErrorWithSeverity(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewWithCore(core)

	log.Critical("harvest failed", String("source", "helda"), Error(errors.New("boom")))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != zapcore.ErrorLevel {
		t.Errorf("level = %v, want error", e.Level)
	}
	ctx := e.ContextMap()
	if ctx["severity"] != "critical" {
		t.Errorf("severity = %v, want critical", ctx["severity"])
	}
	if ctx["source"] != "helda" {
		t.Errorf("source = %v, want helda", ctx["source"])
	}
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewWithCore(core).With(String("source", "doria"))

	log.Info("begin")

	if got := logs.FilterField(String("source", "doria")).Len(); got != 1 {
		t.Errorf("entries with source field = %d, want 1", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want *zapcore.Level
	}{
		{"debug", levelPtr(zapcore.DebugLevel)},
		{"info", levelPtr(zapcore.InfoLevel)},
		{"warn", levelPtr(zapcore.WarnLevel)},
		{"error", levelPtr(zapcore.ErrorLevel)},
		{"critical", levelPtr(zapcore.ErrorLevel)},
		{"verbose", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseLevel(tt.in)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, *got, *tt.want)
			}
		})
	}
}

func levelPtr(l zapcore.Level) *zapcore.Level { return &l }
