// Package logger is the process-wide log facade. Lines carry the service prefix and are
// written through a lossy diode so a slow terminal never stalls the event handlers.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const asyncBufferSize = 8192

var (
	mu     sync.RWMutex
	prefix string
	base   zerolog.Logger
	once   sync.Once
)

func initBase() {
	w := diode.NewWriter(os.Stderr, asyncBufferSize, 10*time.Millisecond, func(missed int) {
		fmt.Fprintf(os.Stderr, "logger: dropped %d messages\n", missed)
	})
	base = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger().
		Level(parseLevel(os.Getenv("LOG_LEVEL")))
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func current() zerolog.Logger {
	once.Do(initBase)
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return base
	}
	return base.With().Str("service", prefix).Logger()
}

// SetPrefix sets the service name attached to every later line (e.g. "widget", "console").
func SetPrefix(p string) {
	once.Do(initBase)
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel accepts debug, info, warn or error. Unknown values mean info.
func SetLevel(level string) {
	once.Do(initBase)
	mu.Lock()
	base = base.Level(parseLevel(level))
	mu.Unlock()
}

// SetOutput redirects logging synchronously to w. Meant for tests and tools.
func SetOutput(w io.Writer) {
	once.Do(initBase)
	mu.Lock()
	base = zerolog.New(w).With().Timestamp().Logger().Level(base.GetLevel())
	mu.Unlock()
}

func Debugf(format string, v ...any) {
	l := current()
	l.Debug().Msgf(format, v...)
}

func Info(v ...any) {
	l := current()
	l.Info().Msg(fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	l := current()
	l.Info().Msgf(format, v...)
}

func Warnf(format string, v ...any) {
	l := current()
	l.Warn().Msgf(format, v...)
}

func Error(v ...any) {
	l := current()
	l.Error().Msg(fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	l := current()
	l.Error().Msgf(format, v...)
}

// LogDuration logs fn and its elapsed time. At info level only calls slower than 100ms are logged.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	l := current()
	if l.GetLevel() > zerolog.DebugLevel && elapsed < 100*time.Millisecond {
		return
	}
	l.WithLevel(zerolog.InfoLevel).Str("fn", fn).Int64("duration_ms", elapsed.Milliseconds()).Send()
}

// DeferLogDuration is the defer form: defer logger.DeferLogDuration("api.History", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
