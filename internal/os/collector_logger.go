//nolint:revive // Package name 'os' is intentional, in separate namespace 'internal/os'
package os

import (
	"time"

	"github.com/ilexum-group/imgtriage/internal/filesystem"
	"github.com/ilexum-group/imgtriage/internal/utils"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

// CallRecord describes one logged collector invocation.
type CallRecord struct {
	ID        string
	Collector string
	Method    string
	Start     time.Time
	End       time.Time
	ExitCode  int
	Err       error
}

// Duration returns End - Start.
func (r CallRecord) Duration() time.Duration { return r.End.Sub(r.Start) }

// CallLogger receives a record after every wrapped call.
type CallLogger func(CallRecord)

// LoggingCollector wraps a Collector and logs every Collect call with timing
type LoggingCollector struct {
	collector Collector
	logFunc   CallLogger
}

// NewLoggingCollector creates a new LoggingCollector that wraps the given
// collector. logFunc may be nil; calls are always written to the RFC 5424 log.
func NewLoggingCollector(collector Collector, logFunc CallLogger) *LoggingCollector {
	return &LoggingCollector{
		collector: collector,
		logFunc:   logFunc,
	}
}

// Unwrap returns the wrapped collector.
func (lc *LoggingCollector) Unwrap() Collector { return lc.collector }

// logMethodCall logs a method invocation with timing
func (lc *LoggingCollector) logMethodCall(methodName string, fn func() error) error {
	rec := CallRecord{
		ID:        utils.GenerateRandomID(),
		Collector: lc.collector.Name(),
		Method:    methodName,
		Start:     time.Now().UTC(),
	}
	utils.LogDebug("Collector started", utils.Meta(
		"id", rec.ID,
		"collector", rec.Collector,
		"method", methodName,
	))

	err := fn()
	rec.End = time.Now().UTC()
	rec.Err = err
	if err != nil {
		rec.ExitCode = 1
		utils.LogWarn("Collector failed", utils.Meta(
			"id", rec.ID,
			"collector", rec.Collector,
			"method", methodName,
			"duration", rec.Duration().String(),
			"error", err.Error(),
		))
	} else {
		utils.LogInfo("Collector finished", utils.Meta(
			"id", rec.ID,
			"collector", rec.Collector,
			"method", methodName,
			"duration", rec.Duration().String(),
		))
	}

	if lc.logFunc != nil {
		lc.logFunc(rec)
	}
	return err
}

// Name returns the wrapped collector's name
func (lc *LoggingCollector) Name() string { return lc.collector.Name() }

// OSType returns the wrapped collector's OS type
func (lc *LoggingCollector) OSType() models.OsType { return lc.collector.OSType() }

// Collect runs the wrapped collector
func (lc *LoggingCollector) Collect(fs filesystem.Reader) (models.SystemInfo, error) {
	var result models.SystemInfo
	err := lc.logMethodCall("Collect", func() error {
		var err error
		result, err = lc.collector.Collect(fs)
		return err
	})
	return result, err
}
