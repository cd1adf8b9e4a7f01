package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestLogger_WritesToStdoutByDefault(t *testing.T) {
	l := New(Config{Level: "info"})
	defer l.Close()

	l.Info("hello", map[string]interface{}{"key": "value"})
	time.Sleep(20 * time.Millisecond)
}

func TestLogger_SeverityGating(t *testing.T) {
	l := New(Config{Level: "warn"})
	defer l.Close()

	l.Debug("should be discarded at call site", nil)
	l.Info("also discarded", nil)

	if l.queue.Len() != 0 {
		t.Fatalf("expected below-threshold entries never enqueued, got queue len %d", l.queue.Len())
	}
}

func TestLogger_DropOldestOnOverflow(t *testing.T) {
	l := New(Config{Level: "debug"})
	defer l.Close()

	// Fill the queue faster than the consumer can drain by pushing directly.
	for i := 0; i < defaultQueueCapacity+10; i++ {
		l.queue.Push(entry{level: zapcore.InfoLevel, msg: "x"})
	}

	if l.queue.Len() > defaultQueueCapacity {
		t.Fatalf("expected queue capped at %d, got %d", defaultQueueCapacity, l.queue.Len())
	}
}

func TestLogger_FileRotationCreatesDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "logs")

	l := New(Config{Level: "info", Dir: sub, MaxDays: 1})
	l.Info("rotated entry", nil)
	time.Sleep(20 * time.Millisecond)
	l.Close()

	if _, err := os.Stat(sub); err != nil {
		t.Fatalf("expected log directory to be created, got %v", err)
	}
}

func TestLogger_NeverPanicsOnRecoveredCoreError(t *testing.T) {
	l := New(Config{Level: "info"})
	defer l.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("logger must never propagate a panic to the caller: %v", r)
		}
	}()
	func() {
		defer l.reportPanic() // as in write(): recovers a panic from the core write path
		panic("simulated core write failure")
	}()
}
