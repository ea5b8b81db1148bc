package term

import (
	"strings"
	"testing"
)

// =============================================================================
// Remote Bootstrap Tests
// =============================================================================

func TestRemoteCommandLine_Shape(t *testing.T) {
	line := remoteCommandLine(RemoteOptions{
		SessionID: "sess-1",
		Command:   "claude",
		Args:      []string{"--settings", "/tmp/settings.json", "--resume", "abc123"},
		Dir:       "/home/dev/project",
		HubPort:   3000,
	})

	if !strings.HasSuffix(line, "\n") {
		t.Error("bootstrap line must end with a newline")
	}
	for _, want := range []string{
		"source ~/.bashrc 2>/dev/null",
		"cd '/home/dev/project'",
		`printf '\033]1337;c3:pid:%d\007' "$$"`,
		"TERM=xterm-256color",
		"C3_SESSION_ID='sess-1'",
		"C3_HUB_PORT=3000",
		"claude '--settings' '/tmp/settings.json' '--resume' 'abc123'",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("bootstrap line missing %q:\n%s", want, line)
		}
	}
}

func TestRemoteCommandLine_QuotesHostileDirectory(t *testing.T) {
	line := remoteCommandLine(RemoteOptions{
		SessionID: "s",
		Command:   "claude",
		Dir:       "/tmp/it's a; rm -rf trap",
		HubPort:   1,
	})
	if !strings.Contains(line, `cd '/tmp/it'\''s a; rm -rf trap'`) {
		t.Errorf("directory not quoted safely:\n%s", line)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"two words", "'two words'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
		{"$HOME `cmd`", "'$HOME `cmd`'"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
