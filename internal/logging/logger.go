package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

type Logger struct {
	format string
	level  Level
	base   *log.Logger
	fields []Field
}

func New(format string) *Logger {
	return NewWithWriter(format, "info", os.Stdout)
}

func NewWithWriter(format, level string, w io.Writer) *Logger {
	if format == "" {
		format = "json"
	}
	if w == nil {
		w = io.Discard
	}
	return &Logger{
		format: format,
		level:  ParseLevel(level),
		base:   log.New(w, "", 0),
	}
}

// Nop returns a logger that drops everything.
func Nop() *Logger {
	return NewWithWriter("text", "error", io.Discard)
}

// With returns a child logger that prepends fields to every entry.
func (l *Logger) With(fields ...Field) *Logger {
	child := *l
	child.fields = append(append([]Field{}, l.fields...), fields...)
	return &child
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.write(LevelDebug, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.write(LevelInfo, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.write(LevelWarn, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(LevelError, msg, fields...)
}

func (l *Logger) write(level Level, msg string, fields ...Field) {
	if l == nil || level < l.level {
		return
	}
	all := fields
	if len(l.fields) > 0 {
		all = append(append([]Field{}, l.fields...), fields...)
	}

	if l.format == "text" {
		l.base.Printf("%s level=%s msg=%q %s", time.Now().Format(time.RFC3339), level, msg, formatFields(all))
		return
	}

	payload := map[string]interface{}{
		"ts":    time.Now().Format(time.RFC3339),
		"level": level.String(),
		"msg":   msg,
	}
	for _, f := range all {
		payload[f.Key] = f.Value
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		l.base.Printf("%s level=error msg=%s err=%v", time.Now().Format(time.RFC3339), "failed to marshal log entry", err)
		return
	}
	l.base.Println(string(encoded))
}

type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err renders err as an "error" field; a nil error renders as empty.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

func formatFields(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	return strings.Join(parts, " ")
}
