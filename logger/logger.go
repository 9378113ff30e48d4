// Package logger is the process-wide logger. Messages carry the component
// that emitted them and go through logrus.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	TRACE LogLevel = iota // Radio-stack calls, raw payloads
	DEBUG                 // Per-request GATT handling
	INFO                  // State changes, services, advertising
	WARN                  // Recoverable protocol problems
	ERROR
)

var toLogrus = [...]logrus.Level{
	TRACE: logrus.TraceLevel,
	DEBUG: logrus.DebugLevel,
	INFO:  logrus.InfoLevel,
	WARN:  logrus.WarnLevel,
	ERROR: logrus.ErrorLevel,
}

var (
	mu   sync.RWMutex
	base = newBase()
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

func (l LogLevel) logrus() logrus.Level {
	if l < TRACE || l > ERROR {
		return logrus.InfoLevel
	}
	return toLogrus[l]
}

// String returns the upper-case name of the level.
func (l LogLevel) String() string {
	return strings.ToUpper(l.logrus().String())
}

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	base.SetLevel(level.logrus())
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	current := base.GetLevel()
	for l, lr := range toLogrus {
		if lr == current {
			return LogLevel(l)
		}
	}
	return INFO
}

// ParseLevel converts a level name. Unknown names mean INFO.
func ParseLevel(level string) LogLevel {
	lr, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return INFO
	}
	for l, candidate := range toLogrus {
		if candidate == lr {
			return LogLevel(l)
		}
	}
	if lr < logrus.ErrorLevel {
		return ERROR
	}
	return INFO
}

// SetOutput redirects all log output.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetJSON switches between logrus' JSON and text formatters.
func SetJSON(enabled bool) {
	if enabled {
		base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Logrus exposes the underlying logger for callers that want fields.
func Logrus() *logrus.Logger {
	return base
}

func log(level LogLevel, component, format string, args ...interface{}) {
	lr := level.logrus()
	if !base.IsLevelEnabled(lr) {
		return
	}
	entry := logrus.NewEntry(base)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	entry.Logf(lr, format, args...)
}

// Trace logs radio-stack calls and raw payloads
func Trace(component, format string, args ...interface{}) {
	log(TRACE, component, format, args...)
}

// Debug logs per-request GATT handling
func Debug(component, format string, args ...interface{}) {
	log(DEBUG, component, format, args...)
}

func Info(component, format string, args ...interface{}) {
	log(INFO, component, format, args...)
}

func Warn(component, format string, args ...interface{}) {
	log(WARN, component, format, args...)
}

func Error(component, format string, args ...interface{}) {
	log(ERROR, component, format, args...)
}

// ToJSON renders v as indented JSON, through protojson for proto messages.
func ToJSON(v interface{}) string {
	var (
		data []byte
		err  error
	)
	if msg, ok := v.(proto.Message); ok {
		data, err = protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(data)
}

// TraceJSON logs label followed by v as JSON
func TraceJSON(component, label string, v interface{}) {
	if base.IsLevelEnabled(logrus.TraceLevel) {
		log(TRACE, component, "%s:\n%s", label, ToJSON(v))
	}
}

// DebugJSON logs label followed by v as JSON
func DebugJSON(component, label string, v interface{}) {
	if base.IsLevelEnabled(logrus.DebugLevel) {
		log(DEBUG, component, "%s:\n%s", label, ToJSON(v))
	}
}
