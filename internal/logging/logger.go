// Package logging provides structured, leveled logging for the kernel,
// reached through a process-wide default logger guarded by a mutex, the
// same shape the teacher's hand-rolled wrapper used — backed here by
// github.com/joeycumines/logiface over github.com/rs/zerolog instead of
// the standard library's log.Logger.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	izerolog "github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// LogLevel mirrors logiface's syslog-style levels under the names the
// rest of the kernel logs at.
type LogLevel = logiface.Level

const (
	LevelDebug LogLevel = logiface.LevelDebug
	LevelInfo  LogLevel = logiface.LevelInformational
	LevelWarn  LogLevel = logiface.LevelWarning
	LevelError LogLevel = logiface.LevelError
)

// Config holds logging configuration.
type Config struct {
	Level  LogLevel
	Output io.Writer
}

// DefaultConfig returns a sensible default configuration: info level,
// writing to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// dropLimiter caps repeated identical warn/error lines (e.g. a user task
// spinning on a bad syscall number) from flooding the host console: at
// most 5 occurrences of a given message per second, 60 per minute. Debug
// and Info lines are unthrottled, matching a kernel's debug channel
// wanting a guard on its noisier levels only.
var dropLimiter = catrate.NewLimiter(map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
})

// Logger wraps a logiface.Logger bound to a zerolog backend.
type Logger struct {
	inner *logiface.Logger[*izerolog.Event]
}

// NewLogger constructs a logger from config, defaulting to DefaultConfig
// when config is nil.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	zl := zerolog.New(output).With().Timestamp().Logger()
	return &Logger{
		inner: izerolog.L.New(
			izerolog.L.WithZerolog(zl),
			izerolog.L.WithLevel(config.Level),
		),
	}
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Default returns the default logger, creating it with DefaultConfig on
// first use.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

func (l *Logger) log(level LogLevel, msg string, fields []any) {
	if level <= LevelWarn {
		if _, ok := dropLimiter.Allow(msg); !ok {
			return
		}
	}
	b := l.inner.Build(level)
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			b = b.Any(key, fields[i+1])
		}
	}
	b.Log(msg)
}

// Debug, Info, Warn, and Error log msg with an optional sequence of
// key/value pairs, e.g. l.Info("scheduler pass", "task", h, "level", 0).
func (l *Logger) Debug(msg string, fields ...any) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...any)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...any)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...any) { l.log(LevelError, msg, fields) }

// Global convenience functions mirroring the methods above, operating on
// the process-wide default logger.
func Debug(msg string, fields ...any) { Default().Debug(msg, fields...) }
func Info(msg string, fields ...any)  { Default().Info(msg, fields...) }
func Warn(msg string, fields ...any)  { Default().Warn(msg, fields...) }
func Error(msg string, fields ...any) { Default().Error(msg, fields...) }
