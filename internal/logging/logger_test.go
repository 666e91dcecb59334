package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitAndLog(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug"})
	defer Shutdown()

	log := ForComponent(CompSession)
	log.Info("hello", "conversation", "T1")

	data, err := os.ReadFile(filepath.Join(dir, "opsbridge.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var entry map[string]any
	line := strings.TrimSpace(string(data))
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line not JSON: %v (%q)", err, line)
	}
	if entry["component"] != CompSession {
		t.Errorf("component = %v, want %q", entry["component"], CompSession)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
}

func TestComponentLoggerCreatedBeforeInit(t *testing.T) {
	Shutdown()

	// Created before Init: must still write once Init runs.
	log := ForComponent(CompRunner)

	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "info"})
	defer Shutdown()

	log.Warn("late binding works")

	data, err := os.ReadFile(filepath.Join(dir, "opsbridge.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "late binding works") {
		t.Errorf("expected message in log, got: %s", data)
	}
}

func TestSetLevel(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "warn"})
	defer Shutdown()

	log := ForComponent(CompWeb)
	log.Info("suppressed")
	SetLevel("debug")
	log.Info("visible")

	data, _ := os.ReadFile(filepath.Join(dir, "opsbridge.log"))
	if strings.Contains(string(data), "suppressed") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(string(data), "visible") {
		t.Error("info message missing after SetLevel(debug)")
	}
}
