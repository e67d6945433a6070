package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %d; want %d", in, got, want)
		}
	}
}

func TestInitLoggerCapturesWarnings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenantmove.log")
	InitLogger(LevelInfo, path)
	defer Close()

	Debug("hidden")
	Info("started")
	Warn("blob copy failed", "path", "folder_1000/file_1/v1/content.txt")
	Error("migration failed")

	warn, errs := GetCounts()
	if warn != 1 || errs != 1 {
		t.Fatalf("GetCounts() = %d, %d; want 1, 1", warn, errs)
	}
	entries := GetEntries()
	if len(entries) != 2 || entries[0].Message != "blob copy failed" {
		t.Fatalf("GetEntries() = %+v", entries)
	}
	if !strings.Contains(entries[1].Format(), "ERROR migration failed") {
		t.Errorf("Format() = %q", entries[1].Format())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Errorf("debug record written at info level")
	}
	if !strings.Contains(string(data), `"service":"tenantmove"`) {
		t.Errorf("log line lacks service attribute: %s", data)
	}
}
