package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

func TestDefaultLogDir(t *testing.T) {
	dir := DefaultLogDir()
	if dir == "" {
		t.Error("DefaultLogDir returned empty string")
	}
	if !contains(dir, ".qassist") || !contains(dir, "logs") {
		t.Errorf("DefaultLogDir should contain .qassist/logs, got: %s", dir)
	}
}

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "qassist.log" {
		t.Errorf("DefaultLogPath should end with qassist.log, got: %s", path)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.MaxSizeMB != 10 {
		t.Errorf("expected MaxSizeMB 10, got: %d", cfg.MaxSizeMB)
	}
	if cfg.MaxFiles != 5 {
		t.Errorf("expected MaxFiles 5, got: %d", cfg.MaxFiles)
	}
	if !cfg.WriteToStderr {
		t.Error("expected WriteToStderr true")
	}
}

func TestDebugConfig(t *testing.T) {
	cfg := DebugConfig()
	if cfg.Level != "debug" {
		t.Errorf("expected level 'debug', got: %s", cfg.Level)
	}
}

func TestSetup_WritesJSONLines(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "qassist.log")

	logger, cleanup, err := Setup(Config{
		Level:         "debug",
		FilePath:      logPath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	logger.Info("suggestion served", "query", "quarterly revenue", "count", 5)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !contains(string(data), `"query":"quarterly revenue"`) {
		t.Errorf("expected structured field in log output, got: %s", string(data))
	}
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]bool{
		"debug": true,
		"DEBUG": true,
		"warn":  true,
		"error": true,
		"bogus": true, // falls back to info, never errors
	}
	for input := range cases {
		_ = LevelFromString(input)
	}
}

func TestFindLogFile_ExplicitPath(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "custom.log")
	if err := os.WriteFile(logPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := FindLogFile(logPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != logPath {
		t.Errorf("expected %s, got %s", logPath, found)
	}
}

func TestFindLogFile_ExplicitMissing(t *testing.T) {
	_, err := FindLogFile("/nonexistent/path/to/qassist.log")
	if err == nil {
		t.Error("expected error for missing explicit log file")
	}
}

func TestSourceFromPath(t *testing.T) {
	cases := map[string]string{
		"/var/log/qassist.log":      "engine",
		"/var/log/oracle-ollama.log": "oracle",
		"/var/log/mystery.log":      "unknown",
	}
	for path, want := range cases {
		if got := sourceFromPath(path); got != want {
			t.Errorf("sourceFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestViewer_TailReturnsRecentEntries(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "qassist.log")

	lines := []string{
		`{"time":"2026-07-30T10:00:00Z","level":"INFO","msg":"first"}`,
		`{"time":"2026-07-30T10:00:01Z","level":"INFO","msg":"second"}`,
		`{"time":"2026-07-30T10:00:02Z","level":"ERROR","msg":"third"}`,
	}
	if err := os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})
	entries, err := v.Tail(logPath, 2)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Msg != "second" || entries[1].Msg != "third" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestViewer_TailFiltersByLevel(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "qassist.log")

	lines := []string{
		`{"time":"2026-07-30T10:00:00Z","level":"DEBUG","msg":"noisy"}`,
		`{"time":"2026-07-30T10:00:01Z","level":"ERROR","msg":"boom"}`,
	}
	if err := os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := NewViewer(ViewerConfig{Level: "error"}, &bytes.Buffer{})
	entries, err := v.Tail(logPath, 10)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Msg != "boom" {
		t.Errorf("expected only the error entry, got: %+v", entries)
	}
}

func TestViewer_TailFiltersByPattern(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "qassist.log")

	lines := []string{
		`{"time":"2026-07-30T10:00:00Z","level":"INFO","msg":"suggestion served"}`,
		`{"time":"2026-07-30T10:00:01Z","level":"INFO","msg":"feedback recorded"}`,
	}
	if err := os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := NewViewer(ViewerConfig{Pattern: regexp.MustCompile("feedback")}, &bytes.Buffer{})
	entries, err := v.Tail(logPath, 10)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Msg != "feedback recorded" {
		t.Errorf("expected only the feedback entry, got: %+v", entries)
	}
}

func TestViewer_TailMultipleMergesBySourceAndTime(t *testing.T) {
	tmpDir := t.TempDir()
	enginePath := filepath.Join(tmpDir, "qassist.log")
	oraclePath := filepath.Join(tmpDir, "oracle-ollama.log")

	engineLines := []string{
		`{"time":"2026-07-30T10:00:00Z","level":"INFO","msg":"engine message 1"}`,
		`{"time":"2026-07-30T10:00:02Z","level":"INFO","msg":"engine message 2"}`,
	}
	oracleLines := []string{
		`{"time":"2026-07-30T10:00:01Z","level":"INFO","msg":"oracle message 1"}`,
	}
	if err := os.WriteFile(enginePath, []byte(strings.Join(engineLines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(oraclePath, []byte(strings.Join(oracleLines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := NewViewer(ViewerConfig{ShowSource: true}, &bytes.Buffer{})
	entries, err := v.TailMultiple([]string{enginePath, oraclePath}, 10)
	if err != nil {
		t.Fatalf("TailMultiple failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 merged entries, got %d", len(entries))
	}
	wantOrder := []string{"engine message 1", "oracle message 1", "engine message 2"}
	for i, want := range wantOrder {
		if entries[i].Msg != want {
			t.Errorf("entry %d: expected %q, got %q", i, want, entries[i].Msg)
		}
	}
}

func TestViewer_FormatEntryIncludesSourceLabel(t *testing.T) {
	v := NewViewer(ViewerConfig{ShowSource: true, NoColor: true}, &bytes.Buffer{})
	entry := LogEntry{
		Time:    time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC),
		Level:   "INFO",
		Msg:     "message from oracle",
		Source:  "oracle",
		IsValid: true,
	}
	formatted := v.FormatEntry(entry)
	if !contains(formatted, "[oracle]") {
		t.Errorf("expected source label in formatted output, got: %s", formatted)
	}
}

func TestRotatingWriter_RotatesOnSizeLimit(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "qassist.log")

	w, err := NewRotatingWriter(logPath, 0, 2) // maxSizeMB=0 forces rotation on first write past 0 bytes
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = w.Close() }()

	if _, err := w.Write([]byte("first line\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := w.Write([]byte("second line\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	rotated := logPath + ".1"
	if _, err := os.Stat(rotated); err != nil {
		t.Errorf("expected rotated file %s to exist: %v", rotated, err)
	}
}
