package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry. The zero value is
// DebugLevel, the project-wide default minimum severity.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

const colorReset = "\033[0m"

func levelColor(level LogLevel) string {
	switch level {
	case DebugLevel:
		return "\033[35m" // Magenta
	case InfoLevel:
		return "\033[32m" // Green
	case WarnLevel:
		return "\033[33m" // Yellow
	case ErrorLevel:
		return "\033[31m" // Red
	case FatalLevel:
		return "\033[91m" // Bright Red
	default:
		return ""
	}
}

// LogFormat represents the output format for logs
type LogFormat int

const (
	ConsoleFormat LogFormat = iota
	JSONFormat
)

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// Logger provides structured logging functionality
type Logger struct {
	level      LogLevel
	format     LogFormat
	writer     io.Writer
	name       string
	fields     []Field
	useColors  bool
	mu         sync.Mutex
	timeFormat string
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Format     LogFormat
	Output     io.Writer
	UseColors  bool
	TimeFormat string
}

// New creates a new logger instance
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	if config.TimeFormat == "" {
		config.TimeFormat = "2006-01-02 15:04:05.000"
	}

	return &Logger{
		level:      config.Level,
		format:     config.Format,
		writer:     config.Output,
		useColors:  config.UseColors,
		timeFormat: config.TimeFormat,
	}
}

// NewConsoleLogger creates a new console logger
func NewConsoleLogger(level LogLevel) *Logger {
	return New(Config{
		Level:     level,
		Format:    ConsoleFormat,
		UseColors: true,
	})
}

// NewJSONLogger creates a new JSON logger
func NewJSONLogger(level LogLevel) *Logger {
	return New(Config{
		Level:  level,
		Format: JSONFormat,
	})
}

// With creates a new logger carrying additional fields
func (l *Logger) With(fields ...Field) *Logger {
	newFields := make([]Field, 0, len(l.fields)+len(fields))
	newFields = append(newFields, l.fields...)
	newFields = append(newFields, fields...)

	return &Logger{
		level:      l.level,
		format:     l.format,
		writer:     l.writer,
		name:       l.name,
		fields:     newFields,
		useColors:  l.useColors,
		timeFormat: l.timeFormat,
	}
}

// WithName creates a new logger with a component name
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		level:      l.level,
		format:     l.format,
		writer:     l.writer,
		name:       name,
		fields:     l.fields,
		useColors:  l.useColors,
		timeFormat: l.timeFormat,
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// IsEnabled returns true if the given level would be logged
func (l *Logger) IsEnabled(level LogLevel) bool {
	return level >= l.GetLevel()
}

// Log outputs a log entry at the specified level
func (l *Logger) Log(level LogLevel, msg string, fields ...Field) {
	if !l.IsEnabled(level) {
		return
	}

	entry := logEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Logger:    l.name,
		Fields:    append(append([]Field{}, l.fields...), fields...),
	}

	// Caller information for error and fatal levels
	if level >= ErrorLevel {
		if _, file, line, ok := runtime.Caller(2); ok {
			entry.File = file
			entry.Line = line
		}
	}

	l.writeEntry(entry)

	if level == FatalLevel {
		os.Exit(1)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	l.Log(DebugLevel, msg, fields...)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	l.Log(InfoLevel, msg, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	l.Log(WarnLevel, msg, fields...)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Field) {
	l.Log(ErrorLevel, msg, fields...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.Log(FatalLevel, msg, fields...)
}

// Debugf logs a debug message with printf-style formatting
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.IsEnabled(DebugLevel) {
		l.Log(DebugLevel, fmt.Sprintf(format, args...))
	}
}

// Infof logs an info message with printf-style formatting
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.IsEnabled(InfoLevel) {
		l.Log(InfoLevel, fmt.Sprintf(format, args...))
	}
}

// Warnf logs a warning message with printf-style formatting
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.IsEnabled(WarnLevel) {
		l.Log(WarnLevel, fmt.Sprintf(format, args...))
	}
}

// Errorf logs an error message with printf-style formatting
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.IsEnabled(ErrorLevel) {
		l.Log(ErrorLevel, fmt.Sprintf(format, args...))
	}
}

type logEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Logger    string
	Fields    []Field
	File      string
	Line      int
}

func (l *Logger) writeEntry(entry logEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var output string
	if l.format == JSONFormat {
		output = formatJSON(entry)
	} else {
		output = l.formatConsole(entry)
	}

	fmt.Fprintln(l.writer, output)
}

func (l *Logger) formatConsole(entry logEntry) string {
	var b strings.Builder

	b.WriteString(entry.Timestamp.Format(l.timeFormat))
	b.WriteString(" ")

	levelName := levelNames[entry.Level]
	if l.useColors {
		b.WriteString(levelColor(entry.Level))
		fmt.Fprintf(&b, "%-5s", levelName)
		b.WriteString(colorReset)
	} else {
		fmt.Fprintf(&b, "%-5s", levelName)
	}
	b.WriteString(" ")

	if entry.Logger != "" {
		b.WriteString("[")
		b.WriteString(entry.Logger)
		b.WriteString("] ")
	}

	b.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		b.WriteString(" {")
		for i, field := range entry.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", field.Key, field.Value)
		}
		b.WriteString("}")
	}

	if entry.File != "" {
		parts := strings.Split(entry.File, "/")
		fmt.Fprintf(&b, " (%s:%d)", parts[len(parts)-1], entry.Line)
	}

	return b.String()
}

func formatJSON(entry logEntry) string {
	obj := map[string]interface{}{
		"timestamp": entry.Timestamp.Format(time.RFC3339Nano),
		"level":     levelNames[entry.Level],
		"message":   entry.Message,
	}

	if entry.Logger != "" {
		obj["logger"] = entry.Logger
	}

	for _, field := range entry.Fields {
		obj[field.Key] = field.Value
	}

	if entry.File != "" {
		obj["caller"] = fmt.Sprintf("%s:%d", entry.File, entry.Line)
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Sprintf(`{"level":"ERROR","message":"failed to marshal log entry: %v"}`, err)
	}
	return string(data)
}

// Helper functions for creating fields

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func ErrorField(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}
