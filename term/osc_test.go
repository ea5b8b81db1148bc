package term

import (
	"strings"
	"testing"
)

// =============================================================================
// Board Command Parsing Tests
// =============================================================================

func TestOSCParser_SingleCommand(t *testing.T) {
	p := newOSCParser()
	cmds := p.Feed([]byte("\x1b]1337;c3:open-board\x07"))
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	if cmds[0].Action != "open-board" {
		t.Errorf("expected action open-board, got %s", cmds[0].Action)
	}
	if cmds[0].Payload != "" {
		t.Errorf("expected empty payload, got %q", cmds[0].Payload)
	}
}

func TestOSCParser_CommandWithPayload(t *testing.T) {
	p := newOSCParser()
	cmds := p.Feed([]byte("\x1b]1337;c3:notify:{\"level\":\"info\"}\x07"))
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	if cmds[0].Action != "notify" {
		t.Errorf("expected action notify, got %s", cmds[0].Action)
	}
	if cmds[0].Payload != `{"level":"info"}` {
		t.Errorf("unexpected payload %q", cmds[0].Payload)
	}
}

func TestOSCParser_STTerminator(t *testing.T) {
	p := newOSCParser()
	cmds := p.Feed([]byte("\x1b]1337;c3:done\x1b\\"))
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	if cmds[0].Action != "done" {
		t.Errorf("expected action done, got %s", cmds[0].Action)
	}
}

func TestOSCParser_SplitAcrossChunks(t *testing.T) {
	full := "before \x1b]1337;c3:refresh:panel-2\x07 after"
	// Feed one byte at a time: worst-case chunk boundaries.
	p := newOSCParser()
	var cmds []BoardCommand
	for i := 0; i < len(full); i++ {
		cmds = append(cmds, p.Feed([]byte{full[i]})...)
	}
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	if cmds[0].Action != "refresh" || cmds[0].Payload != "panel-2" {
		t.Errorf("unexpected command %+v", cmds[0])
	}
}

func TestOSCParser_SplitTerminator(t *testing.T) {
	p := newOSCParser()
	if cmds := p.Feed([]byte("\x1b]1337;c3:split\x1b")); len(cmds) != 0 {
		t.Fatalf("command completed before terminator: %v", cmds)
	}
	cmds := p.Feed([]byte("\\"))
	if len(cmds) != 1 || cmds[0].Action != "split" {
		t.Fatalf("expected split command, got %v", cmds)
	}
}

func TestOSCParser_IgnoresOtherSequences(t *testing.T) {
	p := newOSCParser()
	inputs := []string{
		"\x1b]0;window title\x07",
		"\x1b]8;;https://example.com\x1b\\",
		"\x1b[31mplain red text\x1b[0m",
		"\x1b]1337;File=name=foo\x07", // iTerm2 but not a board command
	}
	for _, in := range inputs {
		if cmds := p.Feed([]byte(in)); len(cmds) != 0 {
			t.Errorf("input %q produced commands %v", in, cmds)
		}
	}
}

func TestOSCParser_MultipleInOneChunk(t *testing.T) {
	p := newOSCParser()
	cmds := p.Feed([]byte("\x1b]1337;c3:a\x07 middle \x1b]1337;c3:b:x\x07"))
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cmds))
	}
	if cmds[0].Action != "a" || cmds[1].Action != "b" || cmds[1].Payload != "x" {
		t.Errorf("unexpected commands %+v", cmds)
	}
}

func TestOSCParser_OverlongSequenceDropped(t *testing.T) {
	p := newOSCParser()
	huge := "\x1b]1337;c3:big:" + strings.Repeat("x", maxOSCLen+10) + "\x07"
	if cmds := p.Feed([]byte(huge)); len(cmds) != 0 {
		t.Errorf("overlong sequence should be dropped, got %v", cmds)
	}
	// Parser must recover for the next sequence.
	cmds := p.Feed([]byte("\x1b]1337;c3:after\x07"))
	if len(cmds) != 1 || cmds[0].Action != "after" {
		t.Fatalf("parser did not recover after overrun: %v", cmds)
	}
}

func TestOSCParser_EmptyActionIgnored(t *testing.T) {
	p := newOSCParser()
	if cmds := p.Feed([]byte("\x1b]1337;c3:\x07")); len(cmds) != 0 {
		t.Errorf("empty action should be ignored, got %v", cmds)
	}
}

func TestOSCParser_EscInsideBodyKept(t *testing.T) {
	// An ESC not followed by backslash stays part of the body; the body is
	// then not a valid board command but must not break framing.
	p := newOSCParser()
	cmds := p.Feed([]byte("\x1b]1337;c3:weird\x1bZstill\x07\x1b]1337;c3:ok\x07"))
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d: %v", len(cmds), cmds)
	}
	if cmds[0].Action != "weird\x1bZstill" {
		t.Errorf("expected raw ESC preserved in action, got %q", cmds[0].Action)
	}
	if cmds[1].Action != "ok" {
		t.Errorf("expected second command ok, got %q", cmds[1].Action)
	}
}
