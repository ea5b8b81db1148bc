package term

import (
	"strings"
	"testing"
)

// =============================================================================
// Child Environment Tests
// =============================================================================

func TestChildEnv_StripsNestedAgentVars(t *testing.T) {
	base := []string{
		"PATH=/usr/bin",
		"CLAUDECODE=1",
		"CLAUDECODE_SOMETHING=x",
		"CLAUDE_CODE_ENTRYPOINT=cli",
		"HOME=/home/dev",
	}
	env := childEnv(base, "sess-1", 3000)

	for _, kv := range env {
		if strings.HasPrefix(kv, "CLAUDECODE") || strings.HasPrefix(kv, "CLAUDE_CODE_ENTRYPOINT=") {
			t.Errorf("nested agent variable leaked: %s", kv)
		}
	}
	if !containsEnv(env, "PATH=/usr/bin") || !containsEnv(env, "HOME=/home/dev") {
		t.Errorf("unrelated variables must survive, got %v", env)
	}
}

func TestChildEnv_SetsSessionIdentity(t *testing.T) {
	env := childEnv([]string{"TERM=screen"}, "abc-123", 8443)

	if !containsEnv(env, "TERM=xterm-256color") {
		t.Errorf("expected TERM override, got %v", env)
	}
	if !containsEnv(env, "C3_SESSION_ID=abc-123") {
		t.Errorf("expected session id, got %v", env)
	}
	if !containsEnv(env, "C3_HUB_PORT=8443") {
		t.Errorf("expected hub port, got %v", env)
	}
	// The inherited TERM must not appear twice.
	count := 0
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one TERM, got %d", count)
	}
}

func containsEnv(env []string, kv string) bool {
	for _, e := range env {
		if e == kv {
			return true
		}
	}
	return false
}
