package term

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// hookScriptName is the helper every configured hook invokes.
const hookScriptName = "c3-hook.sh"

// hookScript reads the agent's hook payload from stdin, extracts the agent
// session id, and reports it to the hub. Identity comes from the environment
// the hub set when it spawned the agent. Failures are swallowed: hooks are
// best-effort and must never break the agent.
const hookScript = `#!/bin/sh
# Reports the agent-side session id back to the hub when a session ends.
payload=$(cat)
claude_session_id=$(printf '%s' "$payload" | sed -n 's/.*"session_id"[[:space:]]*:[[:space:]]*"\([^"]*\)".*/\1/p')
[ -n "$C3_SESSION_ID" ] || exit 0
[ -n "$C3_HUB_PORT" ] || exit 0
curl -s -m 10 -X POST "http://localhost:${C3_HUB_PORT}/api/hooks/event" \
  -H 'Content-Type: application/json' \
  -d "{\"sessionId\":\"${C3_SESSION_ID}\",\"claudeSessionId\":\"${claude_session_id}\"}" \
  >/dev/null 2>&1 || true
exit 0
`

type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
}

type hookMatcher struct {
	Hooks []hookCommand `json:"hooks"`
}

type hookSettings struct {
	Hooks map[string][]hookMatcher `json:"hooks"`
}

// WriteHookSettings materializes the hooks directory: a settings file wiring
// SessionEnd and Stop to the reporter script, and the script itself. It
// returns the settings path to pass to the agent via --settings. The files
// are rewritten on every activation so stale copies never linger.
func WriteHookSettings(hooksDir string) (string, error) {
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return "", fmt.Errorf("create hooks dir: %w", err)
	}

	scriptPath := filepath.Join(hooksDir, hookScriptName)
	if err := os.WriteFile(scriptPath, []byte(hookScript), 0o755); err != nil {
		return "", fmt.Errorf("write hook script: %w", err)
	}

	cmd := hookCommand{Type: "command", Command: scriptPath, Timeout: 10}
	settings := hookSettings{
		Hooks: map[string][]hookMatcher{
			"SessionEnd": {{Hooks: []hookCommand{cmd}}},
			"Stop":       {{Hooks: []hookCommand{cmd}}},
		},
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return "", err
	}
	settingsPath := filepath.Join(hooksDir, "settings.json")
	if err := os.WriteFile(settingsPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write hook settings: %w", err)
	}
	return settingsPath, nil
}
