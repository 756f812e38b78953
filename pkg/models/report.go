// Package models - triage report structures for digital evidence
package models

import (
	"sync"
	"time"
)

const (
	// LogLevelInfo represents general informational messages
	LogLevelInfo = "INFO"

	// LogLevelWarning represents warning messages about potential issues
	LogLevelWarning = "WARNING"

	// LogLevelError represents error messages about failures
	LogLevelError = "ERROR"
)

// CollectorNone is recorded in a report when no collector produced the result
const CollectorNone = "none"

// TriageReport wraps one analysis run: who ran it, against which image,
// when, and what it found.
type TriageReport struct {
	// Unique identifier for this report (UUID v4)
	ID string `json:"id"`

	// Path of the analyzed image as given on the command line
	ImagePath string `json:"image_path"`

	// Version of the tool that produced this report
	ToolVersion string `json:"tool_version"`

	// Hostname of the examiner's machine
	ExaminerHost string `json:"examiner_host"`

	// UTC timestamp when analysis started
	StartTimestamp time.Time `json:"start_timestamp"`

	// UTC timestamp when analysis completed
	EndTimestamp time.Time `json:"end_timestamp"`

	// Duration of the analysis
	Duration string `json:"duration"`

	// Name of the collector whose result was accepted
	Collector string `json:"collector"`

	// Log entries recorded while the report was built
	LogEntries []LogEntry `json:"log_entries"`

	// Extracted system information
	System SystemInfo `json:"system"`

	mu sync.Mutex
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // INFO, WARNING, ERROR
	Message   string    `json:"message"`
	Details   string    `json:"details"`
	Error     string    `json:"error,omitempty"`
}
