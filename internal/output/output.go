// Package output writes triage reports to the examiner's output directory.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilexum-group/imgtriage/internal/utils"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

// ResultsFile is the report file name inside the output directory
const ResultsFile = "triage_results.json"

// WriteReport writes report as indented JSON to <dir>/triage_results.json,
// creating dir when needed, and returns the written path.
func WriteReport(dir string, report *models.TriageReport) (string, error) {
	utils.LogDebug("Preparing to write report", utils.Meta("report", report.ID, "dir", dir))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		utils.LogError("Failed to marshal report", utils.Meta("error", err.Error()))
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		utils.LogError("Failed to create output directory", utils.Meta("dir", dir, "error", err.Error()))
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, ResultsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		utils.LogError("Failed to write report", utils.Meta("path", tmp, "error", err.Error()))
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}

	utils.LogInfo("Report written", utils.Meta("path", path))
	return path, nil
}

// ReadReport reads a report previously written by WriteReport
func ReadReport(path string) (*models.TriageReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	report := &models.TriageReport{}
	if err := json.Unmarshal(data, report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return report, nil
}
