package term

import "strings"

// BoardCommand is an application-level command the agent embeds in its
// terminal output as an OSC 1337 sequence: ESC ] 1337 ; c3:ACTION[:PAYLOAD]
// terminated by BEL or ST. The sequence stays in the data stream; parsing
// only mirrors it as a structured event.
type BoardCommand struct {
	Action  string `json:"action"`
	Payload string `json:"payload,omitempty"`
}

const (
	oscEsc = 0x1b
	oscBel = 0x07

	// boardPrefix is the OSC body prefix that marks a board command.
	boardPrefix = "1337;c3:"

	// maxOSCLen bounds the accumulated body of a candidate sequence.
	// Anything longer is not ours; drop it rather than buffer forever.
	maxOSCLen = 4096
)

// oscParser scans a terminal byte stream for board-command sequences. It is
// incremental: sequences split across Feed calls are reassembled, and
// non-matching output passes through without copying.
type oscParser struct {
	inOSC   bool   // inside ESC ] ... body
	sawEsc  bool   // last byte was ESC (outside or inside a body)
	body    []byte // accumulated OSC body
	overrun bool   // body exceeded maxOSCLen; discard until terminator
}

func newOSCParser() *oscParser {
	return &oscParser{}
}

// Feed consumes the next chunk of output and returns any board commands
// completed within it.
func (p *oscParser) Feed(data []byte) []BoardCommand {
	var cmds []BoardCommand
	for _, b := range data {
		if !p.inOSC {
			if p.sawEsc {
				p.sawEsc = false
				if b == ']' {
					p.inOSC = true
					p.body = p.body[:0]
					p.overrun = false
					continue
				}
			}
			if b == oscEsc {
				p.sawEsc = true
			}
			continue
		}

		// Inside an OSC body: watch for BEL or ESC \ terminators.
		if p.sawEsc {
			p.sawEsc = false
			if b == '\\' {
				if cmd, ok := p.finish(); ok {
					cmds = append(cmds, cmd)
				}
				continue
			}
			// A lone ESC inside the body is not a terminator; keep it.
			p.accumulate(oscEsc)
		}
		switch b {
		case oscBel:
			if cmd, ok := p.finish(); ok {
				cmds = append(cmds, cmd)
			}
		case oscEsc:
			p.sawEsc = true
		default:
			p.accumulate(b)
		}
	}
	return cmds
}

func (p *oscParser) accumulate(b byte) {
	if p.overrun {
		return
	}
	if len(p.body) >= maxOSCLen {
		p.overrun = true
		return
	}
	p.body = append(p.body, b)
}

// finish closes the current sequence and parses it as a board command if it
// carries the board prefix. Other OSC sequences (titles, hyperlinks) are
// ignored.
func (p *oscParser) finish() (BoardCommand, bool) {
	body := string(p.body)
	p.inOSC = false
	p.body = p.body[:0]
	overrun := p.overrun
	p.overrun = false

	if overrun || !strings.HasPrefix(body, boardPrefix) {
		return BoardCommand{}, false
	}
	rest := body[len(boardPrefix):]
	action, payload, _ := strings.Cut(rest, ":")
	if action == "" {
		return BoardCommand{}, false
	}
	return BoardCommand{Action: action, Payload: payload}, true
}
