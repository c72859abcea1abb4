package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Logger is a value type; copies are cheap. A Logger taken from a Service
// follows every Service.Apply. The zero value discards everything.
type Logger struct {
	svc  *Service
	base *zerolog.Logger

	fields []Field
	gate   *gate
}

// gate rate-limits the lines of one throttled logger and all its copies.
type gate struct {
	lim     *rate.Limiter
	dropped atomic.Uint64
}

func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{base: &zl}
}

// NewWriter logs JSON lines to w, independent of any Service. Tests use it to
// capture output.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(ParseLevel(level, LevelDebug)).With().Timestamp().Logger()
	return Logger{base: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.base == nil && len(l.fields) == 0 }

func (l Logger) zl() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.base != nil:
		return *l.base
	}
	return zerolog.Nop()
}

// Enabled reports whether a line at level would be written.
func (l Logger) Enabled(level Level) bool { return level >= l.zl().GetLevel() }

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	cp := l
	cp.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return cp
}

// Throttle returns a logger that lets through at most one line per every.
// The number of lines dropped in between is attached to the next line that
// passes as "suppressed".
func (l Logger) Throttle(every time.Duration) Logger {
	if every <= 0 {
		return l
	}
	cp := l
	cp.gate = &gate{lim: rate.NewLimiter(rate.Every(every), 1)}
	return cp
}

func (l Logger) Trace(msg string, fields ...Field) { l.write(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

func (l Logger) write(level Level, msg string, fields []Field) {
	zl := l.zl()
	if level < zl.GetLevel() {
		return
	}
	var dropped uint64
	if g := l.gate; g != nil {
		if !g.lim.Allow() {
			g.dropped.Add(1)
			return
		}
		dropped = g.dropped.Swap(0)
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// file:line of the Trace/Debug/... caller
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, set := range [][]Field{l.fields, fields} {
		for _, f := range set {
			if f != nil {
				f(e)
			}
		}
	}
	if dropped > 0 {
		e.Uint64("suppressed", dropped)
	}
	e.Msg(msg)
}

// ParseLevel maps a config level name to a Level, falling back to def.
func ParseLevel(s string, def Level) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	}
	return def
}
