package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func readEntries(t *testing.T, path string) []map[string]interface{} {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer f.Close()

	var entries []map[string]interface{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("Log line is not JSON: %q: %v", scanner.Text(), err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_FileSinkWritesStructuredEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.log")

	log, err := New("production", Options{File: path, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	log.Info("Product created", zap.String("product_id", "abc"))
	log.Error("Product store operation failed", zap.String("op", "list products"))
	_ = log.Sync()

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	for _, key := range []string{"level", "timestamp", "msg"} {
		if _, ok := first[key]; !ok {
			t.Errorf("Entry missing %q: %v", key, first)
		}
	}
	if first["product_id"] != "abc" {
		t.Errorf("Expected product_id field, got %v", first["product_id"])
	}

	second := entries[1]
	if second["level"] != "error" {
		t.Errorf("Expected error level, got %v", second["level"])
	}
	if _, ok := second["stacktrace"]; !ok {
		t.Errorf("Error entries should carry a stacktrace")
	}
}

func TestNew_DevelopmentWithoutFile(t *testing.T) {
	log, err := New("development")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Development logger should enable debug level")
	}

	prod, err := New("production")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if prod.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Production logger should not enable debug level")
	}
}

func TestProperty_FileEntriesPreserveMessage(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("every message logged to the file sink is read back unchanged", prop.ForAll(
		func(message string) bool {
			path := filepath.Join(t.TempDir(), "catalog.log")

			log, err := New("production", Options{File: path, MaxSizeMB: 1, MaxBackups: 1})
			if err != nil {
				t.Logf("FAIL: Failed to create logger: %v", err)
				return false
			}
			log.Warn(message)
			_ = log.Sync()

			entries := readEntries(t, path)
			if len(entries) != 1 {
				t.Logf("FAIL: Expected 1 entry, got %d", len(entries))
				return false
			}
			return entries[0]["msg"] == message && entries[0]["level"] == "warn"
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
