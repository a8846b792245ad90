package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger takes a message followed by alternating key/value pairs.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

type Std struct {
	std *log.Logger
}

var _ Logger = (*Std)(nil)

func NewStd(std *log.Logger) *Std {
	if std == nil {
		std = log.New(os.Stderr, "", log.LstdFlags|log.LUTC)
	}
	return &Std{std: std}
}

func (l *Std) Debug(msg string, kv ...interface{}) { l.print("DEBUG", msg, kv) }
func (l *Std) Info(msg string, kv ...interface{})  { l.print("INFO", msg, kv) }
func (l *Std) Warn(msg string, kv ...interface{})  { l.print("WARN", msg, kv) }
func (l *Std) Error(msg string, kv ...interface{}) { l.print("ERROR", msg, kv) }

func (l *Std) print(level, msg string, kv []interface{}) {
	l.std.Printf("%s %s%s", level, msg, formatKV(kv))
}

func formatKV(kv []interface{}) string {
	if len(kv) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		if i+1 < len(kv) {
			fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, " %v", kv[i])
		}
	}
	return b.String()
}

// fields converts key/value pairs into a map, keeping the first error found.
func fields(kv []interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(kv)/2)
	var firstErr error
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if err, ok := kv[i+1].(error); ok {
			if firstErr == nil {
				firstErr = err
			}
			out[key] = err.Error()
			continue
		}
		out[key] = kv[i+1]
	}
	return out, firstErr
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, ...interface{}) {}
func (Nop) Info(string, ...interface{})  {}
func (Nop) Warn(string, ...interface{})  {}
func (Nop) Error(string, ...interface{}) {}
