package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a structured logger backed by zerolog. Child loggers created
// with With share the parent's error collector.
type Logger struct {
	zl   zerolog.Logger
	sink *collectorSink
}

type collectorSink struct {
	mu sync.RWMutex
	c  *LogCollector
}

func (s *collectorSink) get() *LogCollector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c
}

func (s *collectorSink) swap(c *LogCollector) *LogCollector {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.c
	s.c = c
	return old
}

type Config struct {
	Level      string // debug, info, warn, error, fatal, panic
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: cfg.TimeFormat}
	}

	zl := zerolog.New(out).Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(4).
		Logger()
	return &Logger{zl: zl, sink: &collectorSink{}}, nil
}

func openOutput(target string) (io.Writer, error) {
	switch target {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), sink: &collectorSink{}}
}

// NewWriter logs JSON lines to w without caller info.
func NewWriter(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger(), sink: &collectorSink{}}
}

// With returns a child logger carrying fields on every line.
func (l *Logger) With(fields ...Field) *Logger {
	zc := l.zl.With()
	for _, f := range fields {
		zc = f.context(zc)
	}
	return &Logger{zl: zc.Logger(), sink: l.sink}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(zerolog.WarnLevel, msg, fields) }

// Error logs at error level and forwards the line to the collector, if any.
func (l *Logger) Error(msg string, fields ...Field) {
	l.write(zerolog.ErrorLevel, msg, fields)
	if c := l.sink.get(); c != nil {
		c.AddLog("error", msg, fieldMap(fields), callerOf(2))
	}
}

func (l *Logger) write(level zerolog.Level, msg string, fields []Field) {
	ev := l.zl.WithLevel(level)
	if ev == nil {
		return
	}
	for _, f := range fields {
		f.event(ev)
	}
	ev.Msg(msg)
}

// AddCollector starts aggregating error lines of this logger and all of its
// children, replacing any previous collector.
func (l *Logger) AddCollector(config *CollectionConfig) {
	if old := l.sink.swap(NewLogCollector(config)); old != nil {
		old.Close()
	}
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if old := l.sink.swap(nil); old != nil {
		old.Close()
	}
}

func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
}

func fieldMap(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

// Field is one structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
	typed func(e *zerolog.Event)
}

func (f Field) event(e *zerolog.Event) {
	if f.typed != nil {
		f.typed(e)
		return
	}
	e.Interface(f.Key, f.Value)
}

func (f Field) context(c zerolog.Context) zerolog.Context {
	return c.Interface(f.Key, f.Value)
}

func String(key, value string) Field {
	return Field{Key: key, Value: value, typed: func(e *zerolog.Event) { e.Str(key, value) }}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value, typed: func(e *zerolog.Event) { e.Int(key, value) }}
}

func Int32(key string, value int32) Field { return Int(key, int(value)) }

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value, typed: func(e *zerolog.Event) { e.Int64(key, value) }}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value, typed: func(e *zerolog.Event) { e.Float64(key, value) }}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value, typed: func(e *zerolog.Event) { e.Bool(key, value) }}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value, typed: func(e *zerolog.Event) { e.Time(key, value) }}
}

// Duration logs d in milliseconds.
func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: d.Milliseconds(), typed: func(e *zerolog.Event) { e.Dur(key, d) }}
}

func Strings(key string, value []string) Field {
	return Field{Key: key, Value: strings.Join(value, ","), typed: func(e *zerolog.Event) { e.Strs(key, value) }}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

func Error(err error) Field {
	var msg interface{}
	if err != nil {
		msg = err.Error()
	}
	return Field{Key: zerolog.ErrorFieldName, Value: msg, typed: func(e *zerolog.Event) { e.Err(err) }}
}

// Component tags lines with the emitting subsystem.
func Component(name string) Field { return String("component", name) }

// Interaction tags lines with an inbound interaction id.
func Interaction(id string) Field { return String("interaction_id", id) }
