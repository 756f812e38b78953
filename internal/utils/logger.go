// Package utils provides utility functions and types for imgtriage
//
//nolint:revive // utils is a common pattern for internal utilities
package utils

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

// AppName is the RFC 5424 APP-NAME of every record
const AppName = "imgtriage"

// MaxCapturedLogs bounds the in-memory buffer; the oldest records are dropped first
const MaxCapturedLogs = 10000

// Logger defines the interface for logging operations
type Logger interface {
	LogInfo(message string, meta map[string]string)
	LogWarn(message string, meta map[string]string)
	LogError(message string, meta map[string]string)
	LogDebug(message string, meta map[string]string)
}

// RFC5424Logger implements Logger with RFC 5424 compliant syslog format using crewjam/rfc5424
type RFC5424Logger struct {
	appName   string
	hostname  string
	processID string
	facility  rfc5424.Priority // Using the library's priority type for facility
	threshold rfc5424.Priority // Records less severe than this are dropped
	mu        sync.Mutex       // Protect concurrent access to out and logs
	out       io.Writer
	logs      []string // In-memory log buffer, copied into the report
	maxLogs   int
}

// NewRFC5424Logger creates a new RFC 5424 compliant logger writing to stderr at Info level.
func NewRFC5424Logger(appName string) (*RFC5424Logger, error) {
	return NewRFC5424LoggerWithWriter(appName, os.Stderr, rfc5424.Info)
}

// NewRFC5424LoggerWithWriter creates a logger writing to out and dropping
// records less severe than threshold.
func NewRFC5424LoggerWithWriter(appName string, out io.Writer, threshold rfc5424.Priority) (*RFC5424Logger, error) {
	if out == nil {
		return nil, fmt.Errorf("logger output writer is nil")
	}
	return &RFC5424Logger{
		appName:   appName,
		hostname:  getHostname(),
		processID: strconv.Itoa(os.Getpid()),
		facility:  rfc5424.User, // User-level facility
		threshold: threshold,
		out:       out,
		logs:      make([]string, 0),
		maxLogs:   MaxCapturedLogs,
	}, nil
}

// ParseLevel maps a level name (debug, info, warn, error) to its RFC 5424 severity.
func ParseLevel(level string) (rfc5424.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return rfc5424.Debug, nil
	case "", "info":
		return rfc5424.Info, nil
	case "warn", "warning":
		return rfc5424.Warning, nil
	case "error":
		return rfc5424.Error, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

// getHostname retrieves the system hostname dynamically.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost" // Fallback
	}
	return hostname
}

// createMessage creates an RFC 5424 message using the library
func (l *RFC5424Logger) createMessage(severity rfc5424.Priority, message string, meta map[string]string) *rfc5424.Message {
	msg := &rfc5424.Message{
		Priority:  l.facility | severity, // Combine facility and severity
		Timestamp: time.Now().UTC(),
		Hostname:  l.hostname,
		AppName:   l.appName,
		ProcessID: l.processID,
		MessageID: fmt.Sprintf("ID%d", time.Now().UnixNano()%100000),
		Message:   []byte(message),
	}

	for key, value := range meta {
		msg.AddDatum("meta@1", key, value)
	}

	return msg
}

// writeLog writes the formatted RFC 5424 log entry and captures it for the report
func (l *RFC5424Logger) writeLog(severity rfc5424.Priority, message string, meta map[string]string) {
	// Lower numeric severity is more severe
	if severity > l.threshold {
		return
	}
	msg := l.createMessage(severity, message, meta)

	var formatted string
	if raw, err := msg.MarshalBinary(); err == nil {
		formatted = string(raw)
	} else {
		// Fallback to simple format if the library rejects the message
		formatted = fmt.Sprintf("<%d>1 %s %s %s %s - - %s",
			int(l.facility|severity),
			msg.Timestamp.Format(time.RFC3339),
			l.hostname, l.appName, l.processID, message)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintln(l.out, formatted)
	if len(l.logs) >= l.maxLogs {
		l.logs = l.logs[len(l.logs)-l.maxLogs+1:]
	}
	l.logs = append(l.logs, formatted)
}

// LogInfo logs an informational message (severity Info)
func (l *RFC5424Logger) LogInfo(message string, meta map[string]string) {
	l.writeLog(rfc5424.Info, message, meta)
}

// LogWarn logs a warning message (severity Warning)
func (l *RFC5424Logger) LogWarn(message string, meta map[string]string) {
	l.writeLog(rfc5424.Warning, message, meta)
}

// LogError logs an error message (severity Error)
func (l *RFC5424Logger) LogError(message string, meta map[string]string) {
	l.writeLog(rfc5424.Error, message, meta)
}

// LogDebug logs a debug message (severity Debug)
func (l *RFC5424Logger) LogDebug(message string, meta map[string]string) {
	l.writeLog(rfc5424.Debug, message, meta)
}

// GetLogs returns a copy of the captured logs, at most MaxCapturedLogs
func (l *RFC5424Logger) GetLogs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	logsCopy := make([]string, len(l.logs))
	copy(logsCopy, l.logs)
	return logsCopy
}

// ClearLogs clears the in-memory log buffer
func (l *RFC5424Logger) ClearLogs() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = make([]string, 0)
}

// DefaultLogger is the global logger instance
var DefaultLogger *RFC5424Logger

// InitDefaultLogger initializes the global logger instance
func InitDefaultLogger() error {
	logger, err := NewRFC5424Logger(AppName)
	if err != nil {
		return err
	}
	DefaultLogger = logger
	return nil
}

// InitDefaultLoggerWithLevel initializes the global logger with a level name and output
func InitDefaultLoggerWithLevel(level string, out io.Writer) error {
	threshold, err := ParseLevel(level)
	if err != nil {
		return err
	}
	logger, err := NewRFC5424LoggerWithWriter(AppName, out, threshold)
	if err != nil {
		return err
	}
	DefaultLogger = logger
	return nil
}

// Convenience functions using the global logger

// LogInfo logs an informational message using the default logger
func LogInfo(message string, meta map[string]string) {
	if DefaultLogger != nil {
		DefaultLogger.LogInfo(message, meta)
	}
}

// LogWarn logs a warning message using the default logger
func LogWarn(message string, meta map[string]string) {
	if DefaultLogger != nil {
		DefaultLogger.LogWarn(message, meta)
	}
}

// LogError logs an error message using the default logger
func LogError(message string, meta map[string]string) {
	if DefaultLogger != nil {
		DefaultLogger.LogError(message, meta)
	}
}

// LogDebug logs a debug message using the default logger
func LogDebug(message string, meta map[string]string) {
	if DefaultLogger != nil {
		DefaultLogger.LogDebug(message, meta)
	}
}

// GetLogs returns logs from the default logger
func GetLogs() []string {
	if DefaultLogger != nil {
		return DefaultLogger.GetLogs()
	}
	return []string{}
}

// ClearLogs clears logs from the default logger
func ClearLogs() {
	if DefaultLogger != nil {
		DefaultLogger.ClearLogs()
	}
}
