package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/crewjam/rfc5424"
)

func TestRFC5424Logger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewRFC5424LoggerWithWriter(AppName, &buf, rfc5424.Debug)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.LogInfo("Test info message", map[string]string{"test": "true", "level": "info"})
	logger.LogWarn("Test warning message", map[string]string{"test": "true", "level": "warn"})
	logger.LogError("Test error message", map[string]string{"test": "true", "level": "error"})
	logger.LogDebug("Test debug message", map[string]string{"test": "true", "level": "debug"})

	output := buf.String()
	expectedElements := []string{
		"<14>1",       // user.info (1*8 + 6)
		"<12>1",       // user.warning
		"<11>1",       // user.err
		"<15>1",       // user.debug
		"imgtriage",   // App name
		"[meta@1",     // Structured data start
		`test="true"`, // Test metadata
	}
	for _, element := range expectedElements {
		if !strings.Contains(output, element) {
			t.Errorf("Expected log output to contain '%s', but it didn't. Output: %s", element, output)
		}
	}

	if got := len(strings.Split(strings.TrimSpace(output), "\n")); got != 4 {
		t.Errorf("Expected 4 log lines, got %d", got)
	}
	if len(logger.GetLogs()) != 4 {
		t.Errorf("Expected 4 captured logs, got %d", len(logger.GetLogs()))
	}
}

func TestLoggerThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewRFC5424LoggerWithWriter(AppName, &buf, rfc5424.Warning)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.LogDebug("dropped", nil)
	logger.LogInfo("dropped", nil)
	logger.LogWarn("kept", nil)
	logger.LogError("kept", nil)

	logs := logger.GetLogs()
	if len(logs) != 2 {
		t.Fatalf("Expected 2 captured logs, got %d: %v", len(logs), logs)
	}
	if strings.Contains(buf.String(), "dropped") {
		t.Errorf("Expected records below threshold to be dropped, got %s", buf.String())
	}
}

func TestLoggerWithoutMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewRFC5424LoggerWithWriter(AppName, &buf, rfc5424.Info)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.LogInfo("Simple message", nil)

	output := buf.String()
	if !strings.Contains(output, "Simple message") {
		t.Errorf("Expected message in output, got %s", output)
	}
	if strings.Contains(output, "[meta@1") {
		t.Errorf("Expected no structured data without metadata, got %s", output)
	}
}

func TestClearLogs(t *testing.T) {
	var buf bytes.Buffer
	if err := InitDefaultLoggerWithLevel("info", &buf); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { DefaultLogger = nil }()

	LogInfo("one", nil)
	LogInfo("two", nil)
	if len(GetLogs()) != 2 {
		t.Fatalf("Expected 2 logs, got %d", len(GetLogs()))
	}
	ClearLogs()
	if len(GetLogs()) != 0 {
		t.Errorf("Expected no logs after ClearLogs, got %d", len(GetLogs()))
	}
}

func TestCapturedLogsAreBounded(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewRFC5424LoggerWithWriter(AppName, &buf, rfc5424.Info)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	logger.maxLogs = 3

	for _, msg := range []string{"one", "two", "three", "four", "five"} {
		logger.LogInfo(msg, nil)
	}

	logs := logger.GetLogs()
	if len(logs) != 3 {
		t.Fatalf("Expected 3 captured logs, got %d", len(logs))
	}
	for i, want := range []string{"three", "four", "five"} {
		if !strings.Contains(logs[i], want) {
			t.Errorf("Entry %d: expected %q, got %q", i, want, logs[i])
		}
	}
	if strings.Count(buf.String(), "\n") != 5 {
		t.Errorf("Expected every record written to the output, got %q", buf.String())
	}
}

func TestDefaultCaptureLimit(t *testing.T) {
	logger, err := NewRFC5424LoggerWithWriter(AppName, &bytes.Buffer{}, rfc5424.Info)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	for i := 0; i < MaxCapturedLogs+10; i++ {
		logger.LogInfo("record", nil)
	}
	if n := len(logger.GetLogs()); n != MaxCapturedLogs {
		t.Errorf("Expected %d captured logs, got %d", MaxCapturedLogs, n)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    rfc5424.Priority
		wantErr bool
	}{
		{"debug", rfc5424.Debug, false},
		{"INFO", rfc5424.Info, false},
		{"", rfc5424.Info, false},
		{"warn", rfc5424.Warning, false},
		{"warning", rfc5424.Warning, false},
		{"error", rfc5424.Error, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGenerateRandomID(t *testing.T) {
	a, b := GenerateRandomID(), GenerateRandomID()
	if len(a) != 36 || a == b {
		t.Errorf("Expected two distinct UUIDs, got %q and %q", a, b)
	}
}
