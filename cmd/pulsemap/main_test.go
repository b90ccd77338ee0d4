package main

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// syncCounter counts flushes of the logger it backs.
type syncCounter struct {
	zapcore.Core
	syncs int
}

func (c *syncCounter) Sync() error {
	c.syncs++
	return nil
}

func useCountingLogger(t *testing.T) *syncCounter {
	t.Helper()
	core := &syncCounter{Core: zapcore.NewNopCore()}
	prev := logger
	logger = zap.New(core)
	t.Cleanup(func() { logger = prev })
	return core
}

func TestRunSyncsLogger(t *testing.T) {
	core := useCountingLogger(t)

	if code := run([]string{"version"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if core.syncs != 1 {
		t.Errorf("expected logger synced once, got %d", core.syncs)
	}
}

func TestRunSyncsLoggerOnError(t *testing.T) {
	core := useCountingLogger(t)

	if code := run([]string{"no-such-command"}); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if core.syncs != 1 {
		t.Errorf("expected logger synced once, got %d", core.syncs)
	}
}
