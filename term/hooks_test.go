package term

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Hook Settings Tests
// =============================================================================

func TestWriteHookSettings_CreatesSettingsAndScript(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".c3-hooks")
	settingsPath, err := WriteHookSettings(dir)
	if err != nil {
		t.Fatalf("write hook settings: %v", err)
	}
	if settingsPath != filepath.Join(dir, "settings.json") {
		t.Errorf("unexpected settings path %s", settingsPath)
	}

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	var settings hookSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("settings not valid JSON: %v", err)
	}
	for _, event := range []string{"SessionEnd", "Stop"} {
		matchers := settings.Hooks[event]
		if len(matchers) != 1 || len(matchers[0].Hooks) != 1 {
			t.Fatalf("event %s not wired: %+v", event, matchers)
		}
		h := matchers[0].Hooks[0]
		if h.Type != "command" {
			t.Errorf("event %s: expected command hook, got %s", event, h.Type)
		}
		if h.Command != filepath.Join(dir, hookScriptName) {
			t.Errorf("event %s: unexpected command %s", event, h.Command)
		}
		if h.Timeout != 10 {
			t.Errorf("event %s: expected timeout 10, got %d", event, h.Timeout)
		}
	}
}

func TestWriteHookSettings_ScriptIsExecutableAndTargetsHub(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".c3-hooks")
	if _, err := WriteHookSettings(dir); err != nil {
		t.Fatalf("write hook settings: %v", err)
	}

	scriptPath := filepath.Join(dir, hookScriptName)
	info, err := os.Stat(scriptPath)
	if err != nil {
		t.Fatalf("stat script: %v", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Errorf("hook script not executable: %v", info.Mode())
	}

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	body := string(script)
	for _, want := range []string{
		"#!/bin/sh",
		"http://localhost:${C3_HUB_PORT}/api/hooks/event",
		`\"sessionId\":\"${C3_SESSION_ID}\"`,
		"claudeSessionId",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("hook script missing %q", want)
		}
	}
}

func TestWriteHookSettings_RewriteIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".c3-hooks")
	first, err := WriteHookSettings(dir)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	second, err := WriteHookSettings(dir)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if first != second {
		t.Errorf("settings path changed between writes: %s vs %s", first, second)
	}
}
