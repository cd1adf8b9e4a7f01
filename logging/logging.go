// Package logging is qerrors' own structured logger: a single background
// consumer drains a bounded queue of log entries into a zap core so that
// no caller ever blocks on disk I/O, and a failing log sink can never take
// the analysis pipeline down with it.
package logging

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/qerrors/qerrors/collections"
)

const defaultQueueCapacity = 1000

// Config configures a Logger.
type Config struct {
	Level   string // debug, info, warn, error, fatal
	Dir     string // rotation directory; "" disables file rotation
	MaxDays int    // prune rotated files older than this; 0 disables pruning
	Verbose bool   // also echo every written entry to stderr

	// OnDrop, if set, is called once for every entry discarded because the
	// queue was full, so a caller holding a *metrics.Metrics can feed the
	// log.drop counter without this package importing metrics itself.
	OnDrop func()
}

// Logger is the async, bounded, "never throws" structured logger C3
// describes.
type Logger struct {
	core    zapcore.Core
	level   zapcore.Level
	queue   *collections.BoundedQueue
	dropped atomic.Int64
	onDrop  func()
	wg      sync.WaitGroup
	stop    chan struct{}
	lastErr atomic.Int64 // unix seconds of the last self-error report
}

type entry struct {
	level zapcore.Level
	msg   string
	meta  map[string]interface{}
	reqID string
	ts    time.Time
}

// New builds and starts a Logger. Call Close to drain and stop it.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	var writer zapcore.WriteSyncer
	if cfg.Dir != "" {
		_ = os.MkdirAll(cfg.Dir, 0o755)
		lj := &lumberjack.Logger{
			Filename: cfg.Dir + "/qerrors.log",
			MaxAge:   cfg.MaxDays,
			Compress: false,
		}
		writer = zapcore.AddSync(&dailyRotatingWriter{base: lj, dir: cfg.Dir})
	} else {
		writer = zapcore.AddSync(os.Stdout)
	}

	if cfg.Verbose {
		writer = zapcore.NewMultiWriteSyncer(writer, zapcore.AddSync(os.Stderr))
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.MessageKey = "msg"
	encoderCfg.LevelKey = "lvl"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, level)

	l := &Logger{
		core:   core,
		level:  level,
		queue:  collections.NewBoundedQueue(defaultQueueCapacity, 0),
		onDrop: cfg.OnDrop,
		stop:   make(chan struct{}),
	}
	l.queue.DropOldest = true

	l.wg.Add(1)
	go l.run()
	return l
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Log enqueues a structured entry if lvl is at or above the configured
// level. Never blocks; overflow drops the oldest queued entry.
func (l *Logger) Log(lvl zapcore.Level, msg string, meta map[string]interface{}, requestID string) {
	if lvl < l.level {
		return
	}
	e := entry{level: lvl, msg: msg, meta: meta, reqID: requestID, ts: time.Now()}
	// The queue is drop-oldest, so Push into a full queue succeeds by
	// discarding the oldest entry; count that as a drop.
	full := l.queue.Len() >= defaultQueueCapacity
	if !l.queue.Push(e) || full {
		l.dropped.Add(1)
		if l.onDrop != nil {
			l.onDrop()
		}
	}
}

func (l *Logger) Debug(msg string, meta map[string]interface{}) { l.Log(zapcore.DebugLevel, msg, meta, "") }
func (l *Logger) Info(msg string, meta map[string]interface{})  { l.Log(zapcore.InfoLevel, msg, meta, "") }
func (l *Logger) Warn(msg string, meta map[string]interface{})  { l.Log(zapcore.WarnLevel, msg, meta, "") }
func (l *Logger) Error(msg string, meta map[string]interface{}) { l.Log(zapcore.ErrorLevel, msg, meta, "") }

// DropCount returns logDropCount: how many entries were discarded because
// the queue was full.
func (l *Logger) DropCount() int64 { return l.dropped.Load() }

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stop:
			l.drain()
			return
		default:
		}

		v, ok := l.queue.Pop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		l.write(v.(entry))
	}
}

func (l *Logger) drain() {
	for {
		v, ok := l.queue.Pop()
		if !ok {
			return
		}
		l.write(v.(entry))
	}
}

func (l *Logger) write(e entry) {
	fields := make([]zapcore.Field, 0, len(e.meta)+1)
	if e.reqID != "" {
		fields = append(fields, zap.String("requestId", e.reqID))
	}
	for k, v := range e.meta {
		fields = append(fields, zap.Any(k, v))
	}

	ent := zapcore.Entry{Level: e.level, Time: e.ts, Message: e.msg}
	if !l.core.Enabled(ent.Level) {
		return
	}
	defer l.reportPanic()
	if err := l.core.Write(ent, fields); err != nil {
		l.reportSelfError(err)
	}
}

// reportPanic recovers from any panic inside the zap core write path
// (e.g. a disk-full error surfacing as a panic in a misbehaving
// WriteSyncer) and rate-limits a self-report to stderr instead of
// propagating — the logger must never take the caller down with it.
func (l *Logger) reportPanic() {
	if r := recover(); r != nil {
		l.reportSelfError(fmt.Errorf("logging: recovered panic: %v", r))
	}
}

func (l *Logger) reportSelfError(err error) {
	now := time.Now().Unix()
	last := l.lastErr.Load()
	if now-last < 60 {
		return
	}
	if l.lastErr.CompareAndSwap(last, now) {
		fmt.Fprintf(os.Stderr, "qerrors logging error: %v\n", err)
	}
}

// Close stops the consumer goroutine after draining any queued entries.
func (l *Logger) Close() error {
	close(l.stop)
	l.wg.Wait()
	return l.core.Sync()
}
