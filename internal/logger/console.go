// Package logger provides flowline's leveled console logger: timestamped,
// mutex-guarded, colorized when writing to a real terminal.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Level is a log verbosity level, trace being the most verbose.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
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
	case LevelTrace:
		return "TRACE"
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

// Logger is the leveled logging surface the Scheduler, Worker Pool, and
// Repository Gateway all log through, so the host can swap in a file sink
// without touching core logic.
type Logger interface {
	Tracef(format string, args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	// WithField returns a derived Logger that prefixes every line with
	// "[key=value]", used to tag lines with a worker id or task id.
	WithField(key string, value any) Logger
}

// ConsoleLogger writes leveled, timestamped lines to an io.Writer.
// Color output is automatically enabled when the writer is a TTY.
type ConsoleLogger struct {
	writer io.Writer
	level  Level
	mu     *sync.Mutex
	color  bool
	fields []string
}

// New creates a ConsoleLogger writing to w, filtered at levelName (one of
// trace/debug/info/warn/error; defaults to info on an unrecognized value).
func New(w io.Writer, levelName string) *ConsoleLogger {
	return &ConsoleLogger{
		writer: w,
		level:  parseLevel(levelName),
		mu:     &sync.Mutex{},
		color:  isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *ConsoleLogger) WithField(key string, value any) Logger {
	derived := &ConsoleLogger{
		writer: c.writer,
		level:  c.level,
		mu:     c.mu,
		color:  c.color,
		fields: append(append([]string(nil), c.fields...), fmt.Sprintf("%s=%v", key, value)),
	}
	return derived
}

func (c *ConsoleLogger) Tracef(format string, args ...any) { c.logf(LevelTrace, format, args...) }
func (c *ConsoleLogger) Debugf(format string, args ...any) { c.logf(LevelDebug, format, args...) }
func (c *ConsoleLogger) Infof(format string, args ...any)  { c.logf(LevelInfo, format, args...) }
func (c *ConsoleLogger) Warnf(format string, args ...any)  { c.logf(LevelWarn, format, args...) }
func (c *ConsoleLogger) Errorf(format string, args ...any) { c.logf(LevelError, format, args...) }

func (c *ConsoleLogger) logf(level Level, format string, args ...any) {
	if level < c.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if len(c.fields) > 0 {
		msg = "[" + strings.Join(c.fields, " ") + "] " + msg
	}
	ts := time.Now().Format("15:04:05")
	line := fmt.Sprintf("[%s] %s %s\n", ts, level, msg)

	if c.color {
		line = colorize(level, line)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.writer, line)
}

func colorize(level Level, line string) string {
	switch level {
	case LevelError:
		return color.RedString("%s", line)
	case LevelWarn:
		return color.YellowString("%s", line)
	case LevelDebug, LevelTrace:
		return color.New(color.Faint).Sprintf("%s", line)
	default:
		return line
	}
}

// Discard is a Logger that drops everything, used by tests that don't care
// about log output.
var Discard Logger = New(io.Discard, "error")
