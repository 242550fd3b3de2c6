package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{input: "", want: zapcore.InfoLevel},
		{input: "debug", want: zapcore.DebugLevel},
		{input: " WARN ", want: zapcore.WarnLevel},
		{input: "error", want: zapcore.ErrorLevel},
		{input: "loud", want: zapcore.InfoLevel, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLevel(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) err = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestNewHonorsLevel(t *testing.T) {
	t.Parallel()

	logger, err := New("warn", false)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("expected warn to be enabled")
	}

	if _, err := New("nope", true); err == nil {
		t.Fatal("expected invalid level error")
	}
}

func TestPrintfWritesInfo(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	Printf(zap.New(core))("listening on %s", ":8080")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Message != "listening on :8080" {
		t.Fatalf("message = %q", entries[0].Message)
	}
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	if OrNop(nil) == nil {
		t.Fatal("expected no-op logger")
	}
	logger := zap.NewExample()
	if OrNop(logger) != logger {
		t.Fatal("expected same logger")
	}
}
