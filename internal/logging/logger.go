// Package logging provides the structured logger shared by every component
// of the simulator: lock manager, recovery manager, transaction manager,
// DB handler, and the simulation driver all log through the same handle.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Entry is a single structured log record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Formatter renders an Entry to bytes for a writer.
type Formatter interface {
	Format(entry Entry) ([]byte, error)
}

// Logger is a process-scoped handle passed to every component. It never
// blocks on I/O errors: a failed write is reported to stderr and dropped,
// since a logging failure must never abort the simulation.
type Logger struct {
	mutex     sync.Mutex
	level     Level
	outputs   []io.Writer
	formatter Formatter
	component string
}

// New creates a root logger at the given minimum level, writing to stderr
// and, when filename is non-empty, appending to a size-rotated file at
// filename (see rotatingWriter).
func New(level Level, filename string, maxSizeBytes int64, maxBackups int) (*Logger, error) {
	l := &Logger{
		level:     level,
		formatter: &textFormatter{},
		outputs:   []io.Writer{os.Stderr},
	}

	if filename != "" {
		rw, err := newRotatingWriter(filename, maxSizeBytes, maxBackups)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		l.outputs = append(l.outputs, rw)
	}

	return l, nil
}

// With returns a copy of the logger scoped to the given component name,
// e.g. "lockmgr" or "recovery". All subsequent log calls on the copy carry
// that component tag.
func (l *Logger) With(component string) *Logger {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return &Logger{
		level:     l.level,
		outputs:   l.outputs,
		formatter: l.formatter,
		component: component,
	}
}

func (l *Logger) log(level Level, format string, fields map[string]interface{}, args ...interface{}) {
	if level < l.level {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Component: l.component,
		Message:   fmt.Sprintf(format, args...),
		Fields:    fields,
	}

	data, err := l.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: failed to format entry: %v\n", err)
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	for _, out := range l.outputs {
		if _, err := out.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "logging: failed to write entry: %v\n", err)
		}
	}
}

// Debugf logs at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, nil, args...) }

// Warnf logs at WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(LevelWarn, format, nil, args...) }

// Errorf logs at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, nil, args...) }

// textFormatter renders entries as human-readable lines, matching the
// density the rest of the simulator's text output (WAL, DB file) uses.
type textFormatter struct{}

func (f *textFormatter) Format(entry Entry) ([]byte, error) {
	line := fmt.Sprintf("%s [%s] %s: %s",
		entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		entry.Level,
		entry.Component,
		entry.Message,
	)
	if len(entry.Fields) > 0 {
		b, err := json.Marshal(entry.Fields)
		if err == nil {
			line += " " + string(b)
		}
	}
	return []byte(line + "\n"), nil
}
