package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a flag value onto a LogLevel, falling back to INFO.
func ParseLevel(s string) LogLevel {
	switch s {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "critical":
		return CRITICAL
	default:
		return INFO
	}
}

// Logger is a leveled line logger. A nil *Logger discards everything, so
// library packages can take one as an optional dependency. Loggers derived
// with With share the parent's sink, lock and level.
type Logger struct {
	prefix string
	sink   *logSink
}

type logSink struct {
	mu         sync.Mutex
	minLevel   LogLevel
	file       *os.File
	out        io.Writer
	alsoStdout bool
}

func NewFileLogger(filePath string, minLevel LogLevel, alsoStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{sink: &logSink{
		minLevel:   minLevel,
		file:       f,
		out:        f,
		alsoStdout: alsoStdout,
	}}, nil
}

// NewWriterLogger logs to w only. Used by tests and by tools that already own
// their output stream.
func NewWriterLogger(w io.Writer, minLevel LogLevel) *Logger {
	return &Logger{sink: &logSink{minLevel: minLevel, out: w}}
}

// With returns a logger on the same sink whose lines carry prefix.
func (l *Logger) With(prefix string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{prefix: l.prefix + prefix + " ", sink: l.sink}
}

// Close releases the log file. Every logger on the sink goes quiet after it.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alsoStdout = false
	s.out = nil
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

func (l *Logger) SetMinLevel(level LogLevel) {
	if l == nil {
		return
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.minLevel = level
}

// Enabled reports whether a line at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	if l == nil {
		return false
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return level >= l.sink.minLevel && (l.sink.out != nil || l.sink.alsoStdout)
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if l == nil {
		return
	}
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.minLevel {
		return
	}

	ts := time.Now().Format(time.RFC3339Nano)
	line := fmt.Sprintf("%s [%s] %s%s\n", ts, level.String(), l.prefix, fmt.Sprintf(msg, args...))

	if s.out != nil {
		_, _ = io.WriteString(s.out, line)
		if s.file != nil {
			_ = s.file.Sync()
		}
	}
	if s.alsoStdout {
		_, _ = os.Stdout.WriteString(line)
	}
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }
