//nolint:revive // Package name 'os' is intentional, in separate namespace 'internal/os'
package os

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/ilexum-group/imgtriage/pkg/models"
)

// ArtifactDefinition names a family of artifact files by glob patterns.
// Patterns are slash separated and relative to the volume root; braces may
// not span a "/". An empty OS applies the definition to every OS.
type ArtifactDefinition struct {
	Name     string        `yaml:"name" json:"name"`
	OS       models.OsType `yaml:"os,omitempty" json:"os,omitempty"`
	Patterns []string      `yaml:"patterns" json:"patterns"`
}

// PatternSet is an ordered list of artifact definitions.
type PatternSet []ArtifactDefinition

// ForOS returns the definitions applying to osType, in order.
func (s PatternSet) ForOS(osType models.OsType) PatternSet {
	out := make(PatternSet, 0, len(s))
	for _, def := range s {
		if def.OS == "" || def.OS == osType {
			out = append(out, def)
		}
	}
	return out
}

// LoadPatterns reads a YAML artifact definition file.
func LoadPatterns(path string) (PatternSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact definitions: %w", err)
	}
	return ParsePatterns(data)
}

// ParsePatterns decodes and validates a YAML list of artifact definitions.
func ParsePatterns(data []byte) (PatternSet, error) {
	var set PatternSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact definitions: %w", err)
	}
	for i := range set {
		def := &set[i]
		if def.Name == "" {
			return nil, fmt.Errorf("artifact definition %d has no name", i)
		}
		switch {
		case def.OS == "" || strings.EqualFold(string(def.OS), "any"):
			def.OS = ""
		case strings.EqualFold(string(def.OS), string(models.OsWindows)):
			def.OS = models.OsWindows
		case strings.EqualFold(string(def.OS), string(models.OsLinux)):
			def.OS = models.OsLinux
		default:
			return nil, fmt.Errorf("artifact definition %q: unknown os %q", def.Name, def.OS)
		}
		if len(def.Patterns) == 0 {
			return nil, fmt.Errorf("artifact definition %q has no patterns", def.Name)
		}
		for j, p := range def.Patterns {
			p = strings.Trim(strings.ReplaceAll(p, `\`, "/"), "/")
			if p == "" || !doublestar.ValidatePattern(p) || !segmentsBalanced(p) {
				return nil, fmt.Errorf("artifact definition %q: invalid pattern %q", def.Name, def.Patterns[j])
			}
			def.Patterns[j] = p
		}
	}
	return set, nil
}

// segmentsBalanced reports whether every brace group closes within its path segment.
func segmentsBalanced(pattern string) bool {
	for _, seg := range strings.Split(pattern, "/") {
		depth := 0
		for _, r := range seg {
			switch r {
			case '{':
				depth++
			case '}':
				depth--
			}
			if depth < 0 {
				return false
			}
		}
		if depth != 0 {
			return false
		}
	}
	return true
}

// DefaultPatterns returns the built-in artifact definitions.
func DefaultPatterns() PatternSet {
	return PatternSet{
		{Name: "registry_hives", OS: models.OsWindows, Patterns: []string{
			"Windows/System32/config/{SYSTEM,SOFTWARE,SAM,SECURITY,DEFAULT}",
			"Windows/AppCompat/Programs/Amcache.hve",
		}},
		{Name: "user_hives", OS: models.OsWindows, Patterns: []string{
			"Users/*/NTUSER.DAT",
			"Users/*/AppData/Local/Microsoft/Windows/UsrClass.dat",
		}},
		{Name: "event_logs", OS: models.OsWindows, Patterns: []string{
			"Windows/System32/winevt/Logs/*.evtx",
		}},
		{Name: "prefetch", OS: models.OsWindows, Patterns: []string{
			"Windows/Prefetch/*.pf",
		}},
		{Name: "scheduled_tasks", OS: models.OsWindows, Patterns: []string{
			"Windows/System32/Tasks/**/*",
		}},
		{Name: "recent_files", OS: models.OsWindows, Patterns: []string{
			"Users/*/AppData/Roaming/Microsoft/Windows/Recent/*.lnk",
		}},
		{Name: "powershell_history", OS: models.OsWindows, Patterns: []string{
			"Users/*/AppData/Roaming/Microsoft/Windows/PowerShell/PSReadLine/ConsoleHost_history.txt",
		}},
		{Name: "browser_history", OS: models.OsWindows, Patterns: []string{
			"Users/*/AppData/Local/Google/Chrome/User Data/*/History",
			"Users/*/AppData/Local/Microsoft/Edge/User Data/*/History",
			"Users/*/AppData/Roaming/Mozilla/Firefox/Profiles/*/places.sqlite",
		}},
		{Name: "email_stores", OS: models.OsWindows, Patterns: []string{
			"Users/*/Documents/**/*.{pst,ost}",
			"Users/*/AppData/Local/Microsoft/Outlook/*.{pst,ost}",
		}},
		{Name: "system_identity", OS: models.OsLinux, Patterns: []string{
			"etc/{passwd,group,shadow,hostname,hosts,os-release,fstab}",
		}},
		{Name: "shell_history", OS: models.OsLinux, Patterns: []string{
			"home/*/.{bash,zsh}_history",
			"root/.{bash,zsh}_history",
		}},
		{Name: "ssh", OS: models.OsLinux, Patterns: []string{
			"home/*/.ssh/{authorized_keys,known_hosts}",
			"root/.ssh/{authorized_keys,known_hosts}",
			"etc/ssh/sshd_config",
		}},
		{Name: "system_logs", OS: models.OsLinux, Patterns: []string{
			"var/log/{auth.log,secure,syslog,messages,wtmp,btmp,lastlog}",
		}},
		{Name: "scheduled_tasks", OS: models.OsLinux, Patterns: []string{
			"etc/crontab",
			"etc/cron.d/*",
			"var/spool/cron/**/*",
		}},
		{Name: "systemd_units", OS: models.OsLinux, Patterns: []string{
			"etc/systemd/system/**/*.service",
		}},
		{Name: "browser_history", OS: models.OsLinux, Patterns: []string{
			"home/*/.mozilla/firefox/*/places.sqlite",
			"home/*/.config/{google-chrome,chromium}/*/History",
		}},
	}
}
