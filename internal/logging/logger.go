package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Logger is the printf-style logging contract used across the service.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level is a minimum severity for emitted lines.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a LOG_LEVEL value to a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

var (
	globalMu sync.RWMutex

	globalLevel Level     = LevelInfo
	globalOut   io.Writer = os.Stderr

	levelColors = map[Level]*color.Color{
		LevelDebug: color.New(color.FgCyan),
		LevelInfo:  color.New(color.FgGreen),
		LevelWarn:  color.New(color.FgYellow),
		LevelError: color.New(color.FgRed, color.Bold),
	}
)

// SetLevel sets the minimum level for every component logger.
func SetLevel(level Level) {
	globalMu.Lock()
	globalLevel = level
	globalMu.Unlock()
}

// SetOutput redirects every component logger. Color codes are dropped for
// anything that is not a terminal.
func SetOutput(w io.Writer) {
	globalMu.Lock()
	globalOut = w
	globalMu.Unlock()
}

type componentLogger struct {
	component string
}

// New returns a leveled logger scoped to component.
func New(component string) Logger {
	return &componentLogger{component: component}
}

func (l *componentLogger) emit(level Level, format string, args ...any) {
	globalMu.RLock()
	min, out := globalLevel, globalOut
	globalMu.RUnlock()
	if level < min {
		return
	}
	tag := level.String()
	if out == os.Stderr || out == os.Stdout {
		tag = levelColors[level].Sprint(tag)
	}
	line := fmt.Sprintf("%s [%s] %s", tag, l.component, fmt.Sprintf(format, args...))
	log.New(out, "", log.LstdFlags).Print(line)
}

func (l *componentLogger) Debug(format string, args ...any) { l.emit(LevelDebug, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.emit(LevelInfo, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.emit(LevelWarn, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.emit(LevelError, format, args...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	val := reflect.ValueOf(logger)
	if val.Kind() == reflect.Ptr && val.IsNil() {
		return Nop()
	}
	return logger
}
