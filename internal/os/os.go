// Package os detects the operating system installed on an analyzed volume
// and collects its identity, user profiles and artifact files.
//
//nolint:revive // Package name 'os' is intentional, in separate namespace 'internal/os'
package os

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/ilexum-group/imgtriage/internal/filesystem"
	"github.com/ilexum-group/imgtriage/internal/image"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

// ErrNotDetected is returned when a collector finds no installation of its OS
var ErrNotDetected = errors.New("operating system not detected")

// Collector runs one OS variant's five-stage pipeline over a filesystem.
// A failing stage aborts the whole collection with a single error.
type Collector interface {
	Name() string
	OSType() models.OsType
	Collect(fs filesystem.Reader) (models.SystemInfo, error)
}

// Stage names, in pipeline order.
const (
	StageLocate    = "locate"
	StageIdentity  = "identity"
	StageUsers     = "users"
	StageArtifacts = "artifacts"
)

// StageError reports which collector stage failed.
type StageError struct {
	Collector string
	Stage     string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s collector: %s: %v", e.Collector, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Options configure the collectors.
type Options struct {
	// Threads sizes the artifact metadata worker pool; <= 0 means runtime.NumCPU().
	Threads int

	// Patterns replaces the built-in artifact definitions when non-nil.
	Patterns PatternSet
}

// Default carries the behaviour shared by the OS variants.
type Default struct {
	opts Options
}

// NewDefault creates a Default, filling unset options.
func NewDefault(opts Options) *Default {
	if opts.Threads <= 0 {
		opts.Threads = runtime.NumCPU()
	}
	if opts.Patterns == nil {
		opts.Patterns = DefaultPatterns()
	}
	return &Default{opts: opts}
}

// Threads returns the worker pool size.
func (d *Default) Threads() int { return d.opts.Threads }

// Patterns returns the definitions applying to osType.
func (d *Default) Patterns(osType models.OsType) PatternSet {
	return d.opts.Patterns.ForOS(osType)
}

func (d *Default) stageError(collector, stage string, err error) error {
	return &StageError{Collector: collector, Stage: stage, Err: err}
}

// readOptional reads path, reporting ok=false when it does not exist.
// Any other error is returned.
func readOptional(fs filesystem.Reader, path string) (data []byte, ok bool, err error) {
	data, err = fs.ReadFile(path)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// statOptional returns the metadata of path, ok=false when it does not exist.
func statOptional(fs filesystem.Reader, path string) (meta models.FileMetadata, ok bool, err error) {
	meta, err = fs.GetMetadata(path)
	if err != nil {
		if isNotFound(err) {
			return models.FileMetadata{}, false, nil
		}
		return models.FileMetadata{}, false, err
	}
	return meta, true, nil
}

// listOptional lists path, returning nothing when it does not exist.
func listOptional(fs filesystem.Reader, path string) ([]string, error) {
	names, err := fs.ListDirectory(path)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return names, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, image.ErrNotFound)
}

func joinPath(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

// firstLine returns the first non-empty line of data, trimmed.
func firstLine(data []byte) string {
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
