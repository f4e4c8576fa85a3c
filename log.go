package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// logger wraps zerolog for structured logging.
type logger struct {
	z zerolog.Logger
}

// newLogger creates a logger with console output on stderr.
func newLogger(verbose bool) *logger {
	noColor := os.Getenv("NO_COLOR") != ""
	if fi, err := os.Stderr.Stat(); err == nil && (fi.Mode()&os.ModeCharDevice) == 0 {
		noColor = true
	}
	return newLoggerTo(os.Stderr, noColor, verbose)
}

func newLoggerTo(w io.Writer, noColor, verbose bool) *logger {
	out := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &logger{z: zl}
}

// nopLogger discards everything. Used by tests and as a nil-safe fallback.
func nopLogger() *logger {
	return &logger{z: zerolog.Nop()}
}

// with returns a child logger carrying an extra string field.
func (l *logger) with(key, value string) *logger {
	return &logger{z: l.z.With().Str(key, value).Logger()}
}

func (l *logger) debug(msg string) { l.z.Debug().Msg(msg) }
func (l *logger) info(msg string)  { l.z.Info().Msg(msg) }
func (l *logger) warn(msg string)  { l.z.Warn().Msg(msg) }
func (l *logger) ok(msg string)    { l.z.Info().Msg(msg) }
func (l *logger) err(msg string)   { l.z.Error().Msg(msg) }

func (l *logger) debugf(format string, args ...any) { l.debug(fmt.Sprintf(format, args...)) }
func (l *logger) infof(format string, args ...any)  { l.info(fmt.Sprintf(format, args...)) }
func (l *logger) warnf(format string, args ...any)  { l.warn(fmt.Sprintf(format, args...)) }
func (l *logger) okf(format string, args ...any)    { l.ok(fmt.Sprintf(format, args...)) }
func (l *logger) errf(format string, args ...any)   { l.err(fmt.Sprintf(format, args...)) }

// retryLogger routes retryablehttp's leveled logs into the app logger.
// Per-attempt failures are retried, so they are reported as warnings.
type retryLogger struct {
	l *logger
}

func (r retryLogger) Error(msg string, kv ...any) { r.l.z.Warn().Fields(stringFields(kv)).Msg(msg) }
func (r retryLogger) Warn(msg string, kv ...any)  { r.l.z.Warn().Fields(stringFields(kv)).Msg(msg) }
func (r retryLogger) Info(msg string, kv ...any)  { r.l.z.Debug().Fields(stringFields(kv)).Msg(msg) }
func (r retryLogger) Debug(msg string, kv ...any) { r.l.z.Debug().Fields(stringFields(kv)).Msg(msg) }

// stringFields renders Stringer values (URLs, mostly) as plain strings.
func stringFields(kv []any) []any {
	out := make([]any, len(kv))
	for i, v := range kv {
		if s, ok := v.(fmt.Stringer); ok && i%2 == 1 {
			out[i] = s.String()
			continue
		}
		out[i] = v
	}
	return out
}
