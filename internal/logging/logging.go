package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents logging verbosity level
type Level int

const (
	// LevelError only logs errors
	LevelError Level = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs info, warnings, and errors (default)
	LevelInfo
	// LevelDebug logs everything including debug messages
	LevelDebug
)

// Format selects how log lines are rendered.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// sink is the shared destination all loggers write through.
type sink struct {
	mu     sync.Mutex
	level  Level
	format Format
	output io.Writer
}

// Logger writes leveled messages, optionally tagged with a component name.
type Logger struct {
	component string
	sink      *sink
}

var (
	std = &sink{
		level:  LevelInfo,
		output: os.Stdout,
	}
	defaultLogger = &Logger{sink: std}
)

// ParseLevel converts a string to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("unknown verbosity level: %s (valid: debug, info, warn, error)", s)
	}
}

// String returns the string representation of a level
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
}

// SetFormat switches between "text" and "json" output. Unknown values fall back to text.
func SetFormat(format string) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if strings.EqualFold(format, "json") {
		std.format = FormatJSON
	} else {
		std.format = FormatText
	}
}

// SetOutput sets the output destination for logging. nil restores stdout.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	std.output = w
}

// GetLevel returns the current log level
func GetLevel() Level {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.level
}

// Named returns a logger that tags every line with component.
func Named(component string) *Logger {
	return &Logger{component: component, sink: std}
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	defaultLogger.log(LevelDebug, format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	defaultLogger.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	defaultLogger.log(LevelWarn, format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	defaultLogger.log(LevelError, format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// Print always prints regardless of level (for progress bars, summaries)
func Print(format string, args ...interface{}) {
	std.mu.Lock()
	defer std.mu.Unlock()
	fmt.Fprintf(std.output, format, args...)
}

// Println always prints with newline regardless of level
func Println(args ...interface{}) {
	std.mu.Lock()
	defer std.mu.Unlock()
	fmt.Fprintln(std.output, args...)
}

type jsonLine struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Msg       string `json:"msg"`
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level > s.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	now := time.Now()

	if s.format == FormatJSON {
		line, err := json.Marshal(jsonLine{
			TS:        now.UTC().Format(time.RFC3339Nano),
			Level:     strings.ToLower(level.String()),
			Component: l.component,
			Msg:       strings.TrimSpace(msg),
		})
		if err != nil {
			return
		}
		s.output.Write(append(line, '\n'))
		return
	}

	if strings.HasPrefix(msg, "\n") {
		// Handle leading newlines (preserve blank line formatting)
		msg = strings.TrimPrefix(msg, "\n")
		fmt.Fprint(s.output, "\n")
	}
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	prefix := ""
	if l.component != "" {
		prefix = l.component + ": "
	}
	fmt.Fprintf(s.output, "%s [%s] %s%s", now.Format("2006-01-02 15:04:05"), level.String(), prefix, msg)
}

// IsDebug returns true if debug level is enabled
func IsDebug() bool {
	return GetLevel() >= LevelDebug
}
