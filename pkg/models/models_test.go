package models

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSystemInfoJSON(t *testing.T) {
	installed := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	data := SystemInfo{
		Hostname:    "testhost",
		IPAddress:   StringPtr("192.168.1.2"),
		OsType:      OsLinux,
		OsVersion:   StringPtr("Debian GNU/Linux 12 (bookworm)"),
		InstallDate: &installed,
		Users:       []UserInfo{{Username: "root", SID: StringPtr("uid:0"), ProfilePath: "/root"}},
		Artifacts: []ArtifactInfo{{
			Name: "shell_history",
			Path: "/root/.bash_history",
			Size: 42,
			Metadata: FileMetadata{
				Modified:   installed,
				Size:       42,
				Allocated:  true,
				Attributes: 0o100600,
			},
		}},
	}
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal SystemInfo: %v", err)
	}
	for _, key := range []string{`"os_type":"Linux"`, `"ip_address":"192.168.1.2"`, `"mft_modified"`, `"is_directory":false`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("Expected %s in %s", key, b)
		}
	}
	for _, key := range []string{`"domain"`, `"timezone"`, `"last_login"`} {
		if strings.Contains(string(b), key) {
			t.Errorf("Expected %s to be omitted from %s", key, b)
		}
	}

	var out SystemInfo
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Failed to unmarshal SystemInfo: %v", err)
	}
	if out.Hostname != "testhost" || *out.OsVersion != *data.OsVersion || !out.InstallDate.Equal(installed) {
		t.Error("Unmarshaled data does not match original")
	}
	if out.Artifacts[0].Metadata.Attributes != 0o100600 {
		t.Errorf("Expected attributes to survive, got %o", out.Artifacts[0].Metadata.Attributes)
	}
}

func TestUnknownSystem(t *testing.T) {
	s := UnknownSystem()
	if !s.IsUnknown() {
		t.Error("Expected sentinel to report unknown")
	}
	if s.Hostname != "unknown" {
		t.Errorf("Expected hostname unknown, got %s", s.Hostname)
	}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if !strings.Contains(string(b), `"users":[]`) || !strings.Contains(string(b), `"artifacts":[]`) {
		t.Errorf("Expected empty lists, got %s", b)
	}
}

func TestPointerHelpers(t *testing.T) {
	if StringPtr("") != nil {
		t.Error("Expected nil for empty string")
	}
	if p := StringPtr("x"); p == nil || *p != "x" {
		t.Error("Expected pointer to x")
	}
	if TimePtr(time.Time{}) != nil {
		t.Error("Expected nil for zero time")
	}
	now := time.Now()
	if p := TimePtr(now); p == nil || !p.Equal(now) {
		t.Error("Expected pointer to now")
	}
}

func TestTriageReportLifecycle(t *testing.T) {
	r := NewTriageReport("/evidence/disk.raw", "1.0.0")
	if r.ID == "" {
		t.Fatal("Expected report ID")
	}
	if r.Collector != CollectorNone || !r.System.IsUnknown() {
		t.Error("Expected a fresh report to carry the unknown sentinel")
	}

	r.LogInfo("Acquire", "start")
	r.LogWarning("Collect:windows", "no Windows directory")
	r.LogError("OpenFilesystem", "failed", errors.New("boom"))
	r.LogError("Other", "failed without cause", nil)

	r.Finalize(SystemInfo{Hostname: "web01", OsType: OsLinux}, "")
	if r.Collector != CollectorNone {
		t.Errorf("Expected empty collector to become %s, got %s", CollectorNone, r.Collector)
	}
	if r.EndTimestamp.Before(r.StartTimestamp) || r.Duration == "" {
		t.Error("Expected end timestamp and duration")
	}

	levels := []string{LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelError}
	if len(r.LogEntries) != len(levels) {
		t.Fatalf("Expected %d entries, got %d", len(levels), len(r.LogEntries))
	}
	for i, want := range levels {
		if r.LogEntries[i].Level != want {
			t.Errorf("Entry %d: expected level %s, got %s", i, want, r.LogEntries[i].Level)
		}
	}
	if r.LogEntries[2].Error != "boom" || r.LogEntries[3].Error != "" {
		t.Error("Expected error text only where an error was given")
	}
	if r.LogEntries[1].Details != "Collect:windows" {
		t.Errorf("Expected operation in details, got %s", r.LogEntries[1].Details)
	}
}

func TestTriageReportConcurrentLogging(t *testing.T) {
	r := NewTriageReport("x", "dev")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.LogInfo("worker", "done")
		}()
	}
	wg.Wait()
	if len(r.LogEntries) != 50 {
		t.Errorf("Expected 50 entries, got %d", len(r.LogEntries))
	}
}
