// Package acquisition runs the OS collectors against an image and wraps the
// outcome in a triage report.
package acquisition

import (
	"fmt"
	"os"

	"github.com/ilexum-group/imgtriage/internal/filesystem"
	"github.com/ilexum-group/imgtriage/internal/image"
	osinfo "github.com/ilexum-group/imgtriage/internal/os"
	"github.com/ilexum-group/imgtriage/internal/utils"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

// Acquisition tries an ordered list of collectors; the first success wins
type Acquisition struct {
	collectors []osinfo.Collector

	// ToolVersion is recorded in every report
	ToolVersion string
}

// New creates an Acquisition trying collectors in the given order
func New(collectors ...osinfo.Collector) *Acquisition {
	return &Acquisition{collectors: collectors, ToolVersion: "dev"}
}

// Default creates an Acquisition with the Windows collector followed by the Linux one
func Default(opts osinfo.Options) *Acquisition {
	def := osinfo.NewDefault(opts)
	return New(osinfo.NewWindowsWithDefault(def), osinfo.NewLinuxWithDefault(def))
}

// Collectors returns the collectors in trial order
func (a *Acquisition) Collectors() []osinfo.Collector {
	out := make([]osinfo.Collector, len(a.collectors))
	copy(out, a.collectors)
	return out
}

// Analyze opens a filesystem reader for img and tries each collector once,
// in order. When the reader cannot be opened or every collector fails, the
// Unknown sentinel is returned.
func (a *Acquisition) Analyze(img image.Image) models.SystemInfo {
	info, _ := a.analyze(img, nil)
	return info
}

// Acquire runs Analyze and records the run in a TriageReport
func (a *Acquisition) Acquire(img image.Image, imagePath string) *models.TriageReport {
	report := models.NewTriageReport(imagePath, a.ToolVersion)
	if host, err := os.Hostname(); err == nil {
		report.SetExaminerHost(host)
	}
	report.LogInfo("Acquire", "Starting triage of "+imagePath)

	info, collector := a.analyze(img, report)
	report.Finalize(info, collector)

	report.LogInfo("Acquire", fmt.Sprintf("Triage finished: os_type=%s hostname=%s", info.OsType, info.Hostname))
	utils.LogInfo("Triage finished", utils.Meta(
		"report", report.ID,
		"image", imagePath,
		"collector", report.Collector,
		"os_type", string(info.OsType),
		"hostname", info.Hostname,
		"duration", report.Duration,
	))
	return report
}

func (a *Acquisition) analyze(img image.Image, report *models.TriageReport) (models.SystemInfo, string) {
	fs, err := filesystem.Open(img)
	if err != nil {
		utils.LogWarn("Filesystem not supported", utils.Meta("error", err.Error()))
		if report != nil {
			report.LogError("OpenFilesystem", "Could not open a filesystem reader for the image", err)
		}
		return models.UnknownSystem(), models.CollectorNone
	}

	for _, c := range a.collectors {
		lc := osinfo.NewLoggingCollector(c, reportCalls(report))
		info, err := lc.Collect(fs)
		if err != nil {
			continue
		}
		return info, c.Name()
	}

	if report != nil {
		report.LogWarning("Analyze", "No collector recognized the volume")
	}
	return models.UnknownSystem(), models.CollectorNone
}

// reportCalls turns collector call records into report log entries.
func reportCalls(report *models.TriageReport) osinfo.CallLogger {
	if report == nil {
		return nil
	}
	return func(rec osinfo.CallRecord) {
		op := rec.Method + ":" + rec.Collector
		if rec.Err != nil {
			report.LogWarning(op, fmt.Sprintf("Collector %s did not match after %s: %v", rec.Collector, rec.Duration(), rec.Err))
			return
		}
		report.LogInfo(op, fmt.Sprintf("Collector %s succeeded in %s", rec.Collector, rec.Duration()))
	}
}
