package logger

import (
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorWithErrStackLogsRootCauseAndStack(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapWrapper(zap.New(core))

	err := errors.Wrap(errors.New("disk gone"), "failed to read static file")
	log.ErrorWithErrStack("failed to serve static file", err, zap.String("file", "index.html"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want the error plus its stack", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["error"] != "disk gone" {
		t.Fatalf("error field = %v, want the root cause", fields["error"])
	}
	if fields["file"] != "index.html" {
		t.Fatalf("file field = %v", fields["file"])
	}

	if entries[1].Level != zapcore.DebugLevel {
		t.Fatalf("stack entry level = %v, want debug", entries[1].Level)
	}
	if stack, _ := entries[1].ContextMap()["stack"].(string); stack == "" {
		t.Fatal("stack field is empty")
	}
}

func TestErrorWithErrStackNilError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapWrapper(zap.New(core))

	log.ErrorWithErrStack("startup failed", nil)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want a single plain error", len(entries))
	}
	if _, ok := entries[0].ContextMap()["error"]; ok {
		t.Fatal("nil error must not produce an error field")
	}
}

func TestErrorWithErrStackStacklessError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapWrapper(zap.New(core))

	log.ErrorWithErrStack("config reload failed", errStackless)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, a stackless error must not emit a stack", len(entries))
	}
	if entries[0].ContextMap()["error"] != "boom" {
		t.Fatalf("error field = %v", entries[0].ContextMap()["error"])
	}
}

var errStackless = plainError("boom")

type plainError string

func (e plainError) Error() string { return string(e) }
