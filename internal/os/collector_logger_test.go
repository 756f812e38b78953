//nolint:revive // Package name 'os' is intentional, in separate namespace 'internal/os'
package os

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilexum-group/imgtriage/internal/filesystem"
	"github.com/ilexum-group/imgtriage/internal/image"
	"github.com/ilexum-group/imgtriage/internal/image/memimage"
	"github.com/ilexum-group/imgtriage/internal/utils"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

type stubCollector struct {
	name  string
	info  models.SystemInfo
	err   error
	calls int
}

func (s *stubCollector) Name() string          { return s.name }
func (s *stubCollector) OSType() models.OsType { return s.info.OsType }
func (s *stubCollector) Collect(filesystem.Reader) (models.SystemInfo, error) {
	s.calls++
	return s.info, s.err
}

func TestLoggingCollector(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, utils.InitDefaultLoggerWithLevel("debug", &out))
	t.Cleanup(func() { _ = utils.InitDefaultLogger() })

	inner := &stubCollector{name: "linux", info: models.SystemInfo{Hostname: "web01", OsType: models.OsLinux}}
	var records []CallRecord
	lc := NewLoggingCollector(inner, func(r CallRecord) { records = append(records, r) })

	assert.Equal(t, "linux", lc.Name())
	assert.Equal(t, models.OsLinux, lc.OSType())
	assert.Same(t, inner, lc.Unwrap())

	fs := openFS(t, memimage.New(image.Extent))
	info, err := lc.Collect(fs)
	require.NoError(t, err)
	assert.Equal(t, "web01", info.Hostname)

	inner.err = errors.New("no marker")
	_, err = lc.Collect(fs)
	require.EqualError(t, err, "no marker")
	assert.Equal(t, 2, inner.calls)

	require.Len(t, records, 2)
	assert.Equal(t, "Collect", records[0].Method)
	assert.Equal(t, "linux", records[0].Collector)
	assert.Equal(t, 0, records[0].ExitCode)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].End.Before(records[0].Start))
	assert.Equal(t, 1, records[1].ExitCode)
	assert.EqualError(t, records[1].Err, "no marker")

	logged := out.String()
	assert.Contains(t, logged, "Collector started")
	assert.Contains(t, logged, "Collector finished")
	assert.Contains(t, logged, "Collector failed")
	assert.Contains(t, logged, "no marker")
}

func TestLoggingCollectorWithoutCallback(t *testing.T) {
	inner := &stubCollector{name: "windows", err: ErrNotDetected}
	_, err := NewLoggingCollector(inner, nil).Collect(nil)
	require.ErrorIs(t, err, ErrNotDetected)
}
