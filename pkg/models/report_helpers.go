// Package models - triage report helper functions
package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Constructor
// ============================================================================

// NewTriageReport creates a report for the given image and tool version.
// The start timestamp is set to the current UTC time.
func NewTriageReport(imagePath, version string) *TriageReport {
	return &TriageReport{
		ID:             uuid.New().String(),
		ImagePath:      imagePath,
		ToolVersion:    version,
		StartTimestamp: time.Now().UTC(),
		Collector:      CollectorNone,
		LogEntries:     make([]LogEntry, 0),
		System:         UnknownSystem(),
	}
}

// ============================================================================
// Public Methods
// ============================================================================

// Finalize records the analysis result, the collector that produced it, and
// the end timestamp and duration.
func (r *TriageReport) Finalize(system SystemInfo, collector string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.System = system
	if collector == "" {
		collector = CollectorNone
	}
	r.Collector = collector
	r.EndTimestamp = time.Now().UTC()
	r.Duration = r.EndTimestamp.Sub(r.StartTimestamp).String()
}

// LogError logs an error message to the report.
// Parameters:
//   - operation: Name or identifier of the operation that failed
//   - message: Error message to log
//   - err: Error object (can be nil)
func (r *TriageReport) LogError(operation, message string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	r.appendEntry(LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     LogLevelError,
		Message:   message,
		Details:   operation,
		Error:     errMsg,
	})
}

// LogInfo logs an informational message to the report.
// Parameters:
//   - operation: Name or identifier of the operation being performed
//   - message: Informational message to log
func (r *TriageReport) LogInfo(operation, message string) {
	r.appendEntry(LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     LogLevelInfo,
		Message:   message,
		Details:   operation,
	})
}

// LogWarning logs a warning message to the report.
// Parameters:
//   - operation: Name or identifier of the operation being performed
//   - message: Warning message to log
func (r *TriageReport) LogWarning(operation, message string) {
	r.appendEntry(LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     LogLevelWarning,
		Message:   message,
		Details:   operation,
	})
}

// SetExaminerHost sets the hostname of the machine running the analysis.
func (r *TriageReport) SetExaminerHost(hostname string) {
	r.ExaminerHost = hostname
}

func (r *TriageReport) appendEntry(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LogEntries = append(r.LogEntries, entry)
}
