//nolint:revive // Package name 'os' is intentional, in separate namespace 'internal/os'
package os

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilexum-group/imgtriage/internal/filesystem"
	"github.com/ilexum-group/imgtriage/internal/image"
	"github.com/ilexum-group/imgtriage/internal/image/memimage"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

func globImage() *memimage.Image {
	img := memimage.New(image.Extent)
	img.WriteFile("/var/log/syslog", []byte("a"))
	img.WriteFile("/var/log/auth.log", []byte("bb"))
	img.WriteFile("/var/log/apt/history.log", []byte("ccc"))
	img.WriteFile("/var/log/apt/term.log", []byte("dddd"))
	img.WriteFile("/var/log/journal/abc/system.journal", []byte("eeeee"))
	img.WriteFile("/etc/ssh/sshd_config", []byte("PermitRootLogin no\n"))
	img.WriteFile("/etc/ssh/ssh_config", []byte("Host *\n"))
	return img
}

func TestExpandPatterns(t *testing.T) {
	fs := openFS(t, globImage())
	exp := newExpander(fs)

	tests := []struct {
		pattern string
		want    []string
	}{
		{"var/log/*.log", []string{"/var/log/auth.log"}},
		{"var/log/**/*.log", []string{"/var/log/auth.log", "/var/log/apt/history.log", "/var/log/apt/term.log"}},
		{"var/log/**", []string{"/var/log", "/var/log/apt", "/var/log/journal", "/var/log/journal/abc"}},
		{"etc/ssh/{sshd,ssh}_config", []string{"/etc/ssh/sshd_config", "/etc/ssh/ssh_config"}},
		{"etc/ssh/ssh?_config", []string{"/etc/ssh/sshd_config"}},
		{"srv/**/*.conf", nil},
		{"var/log/SYSLOG", nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := exp.Expand(tt.pattern)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestExpandFoldsCaseOnNTFS(t *testing.T) {
	img := memimage.New(image.NTFS)
	img.WriteFile("/Windows/Prefetch/NOTEPAD.EXE-D8414F97.pf", []byte("x"))

	got, err := newExpander(openFS(t, img)).Expand("windows/prefetch/*.PF")
	require.NoError(t, err)
	assert.Equal(t, []string{"/Windows/Prefetch/NOTEPAD.EXE-D8414F97.pf"}, got)
}

func TestCollectArtifacts(t *testing.T) {
	fs := openFS(t, globImage())
	defs := PatternSet{
		{Name: "logs", Patterns: []string{"var/log/**/*.log", "var/log/syslog"}},
		{Name: "everything", Patterns: []string{"var/log/**/*"}},
	}

	artifacts, err := CollectArtifacts(fs, defs, 3)
	require.NoError(t, err)

	type row struct {
		Name string
		Path string
		Size uint64
	}
	var got []row
	for _, a := range artifacts {
		got = append(got, row{a.Name, a.Path, a.Size})
		assert.Equal(t, a.Size, a.Metadata.Size)
		assert.False(t, a.Metadata.IsDirectory)
	}
	assert.Equal(t, []row{
		{"logs", "/var/log/apt/history.log", 3},
		{"logs", "/var/log/apt/term.log", 4},
		{"logs", "/var/log/auth.log", 2},
		{"everything", "/var/log/journal/abc/system.journal", 5},
		{"logs", "/var/log/syslog", 1},
	}, got)
}

func TestCollectArtifactsEmpty(t *testing.T) {
	artifacts, err := CollectArtifacts(openFS(t, memimage.New(image.Extent)), DefaultPatterns().ForOS(models.OsLinux), 2)
	require.NoError(t, err)
	assert.NotNil(t, artifacts)
	assert.Empty(t, artifacts)
}

func TestCollectArtifactsMetadataErrorFails(t *testing.T) {
	img := globImage()
	ref := img.WriteFile("/var/log/kern.log", []byte("corrupt"))
	img.SetRecord(ref, []byte{0x01, 0x02})

	_, err := CollectArtifacts(openFS(t, img), PatternSet{{Name: "logs", Patterns: []string{"var/log/*.log"}}}, 2)
	require.ErrorIs(t, err, filesystem.ErrDecode)
}

func TestParsePatterns(t *testing.T) {
	set, err := ParsePatterns([]byte(`
- name: outlook
  os: windows
  patterns:
    - 'Users\*\Documents\**\*.pst'
- name: ssh_keys
  os: LINUX
  patterns: ["home/*/.ssh/id_*"]
- name: anywhere
  os: any
  patterns: ["/tmp/*.sh"]
`))
	require.NoError(t, err)
	require.Len(t, set, 3)
	assert.Equal(t, models.OsWindows, set[0].OS)
	assert.Equal(t, []string{"Users/*/Documents/**/*.pst"}, set[0].Patterns)
	assert.Equal(t, models.OsLinux, set[1].OS)
	assert.Equal(t, models.OsType(""), set[2].OS)
	assert.Equal(t, []string{"tmp/*.sh"}, set[2].Patterns)

	linux := set.ForOS(models.OsLinux)
	require.Len(t, linux, 2)
	assert.Equal(t, "ssh_keys", linux[0].Name)
	assert.Equal(t, "anywhere", linux[1].Name)
}

func TestParsePatternsRejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"no name":        "- os: linux\n  patterns: [etc/passwd]\n",
		"unknown os":     "- name: x\n  os: plan9\n  patterns: [etc/passwd]\n",
		"no patterns":    "- name: x\n  os: linux\n",
		"bad glob":       "- name: x\n  patterns: ['etc/[passwd']\n",
		"brace spans /":  "- name: x\n  patterns: ['{etc/passwd,etc/group}']\n",
		"not a sequence": "name: x\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePatterns([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadPatterns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: hosts\n  os: linux\n  patterns: [etc/hosts]\n"), 0o600))

	set, err := LoadPatterns(path)
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.Equal(t, "hosts", set[0].Name)

	_, err = LoadPatterns(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultPatternsAreValid(t *testing.T) {
	for _, def := range DefaultPatterns() {
		assert.NotEmpty(t, def.OS, def.Name)
		for _, p := range def.Patterns {
			assert.True(t, segmentsBalanced(p), p)
		}
	}
}
