package ports

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"

	"github.com/agentide/c3/tunnel"
)

// Listener is one observed listening TCP socket: the port and the pid that
// opened it.
type Listener struct {
	PID  int
	Port int
}

// listenerCommand enumerates listening sockets on a remote worker. ss is the
// modern tool; lsof covers hosts without iproute2. The trailing true keeps
// the exec from failing when neither finds anything.
const listenerCommand = `ss -tlnp 2>/dev/null || lsof -i -P -n -sTCP:LISTEN 2>/dev/null || true`

// pidTreeCommand dumps every process with its parent, for subtree filtering.
const pidTreeCommand = `ps -e -o pid=,ppid=`

// localListeners enumerates listening sockets on the hub host, preferring
// lsof and falling back to ss.
func localListeners(ctx context.Context) ([]Listener, error) {
	out, lsofErr := exec.CommandContext(ctx, "lsof", "-i", "-P", "-n", "-sTCP:LISTEN").Output()
	if len(out) > 0 {
		return ParseListeners(string(out)), nil
	}

	out, ssErr := exec.CommandContext(ctx, "ss", "-tlnp").Output()
	if len(out) > 0 {
		return ParseListeners(string(out)), nil
	}
	if ssErr != nil && lsofErr != nil {
		return nil, fmt.Errorf("enumerating listeners: lsof: %v; ss: %v", lsofErr, ssErr)
	}
	return nil, nil
}

// remoteListeners enumerates listening sockets on a worker over SSH.
func remoteListeners(ctx context.Context, tunnels *tunnel.Manager, workerID string) ([]Listener, error) {
	out, err := tunnels.Exec(ctx, workerID, listenerCommand)
	if err != nil {
		return nil, err
	}
	return ParseListeners(out), nil
}

// ParseListeners extracts (pid, port) pairs from lsof or ss output. The two
// formats are distinguished per line, so mixed output parses too: lsof lines
// end in "(LISTEN)", ss lines start with "LISTEN".
func ParseListeners(out string) []Listener {
	var found []Listener
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasSuffix(line, "(LISTEN)"):
			found = append(found, parseLsofLine(line)...)
		case strings.HasPrefix(line, "LISTEN"):
			found = append(found, parseSSLine(line)...)
		}
	}
	return found
}

// parseLsofLine handles one lsof row:
//
//	node  12345 dev 23u IPv4 0x0 0t0 TCP 127.0.0.1:5173 (LISTEN)
func parseLsofLine(line string) []Listener {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return nil
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil
	}
	port, ok := portOfAddr(fields[len(fields)-2])
	if !ok {
		return nil
	}
	return []Listener{{PID: pid, Port: port}}
}

// parseSSLine handles one ss row:
//
//	LISTEN 0 511 127.0.0.1:5173 0.0.0.0:* users:(("node",pid=12345,fd=23))
//
// A socket shared by several processes lists them all; each pid gets an
// entry so subtree filtering can match any of them.
func parseSSLine(line string) []Listener {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return nil
	}
	port, ok := portOfAddr(fields[3])
	if !ok {
		return nil
	}

	var found []Listener
	rest := line
	for {
		idx := strings.Index(rest, "pid=")
		if idx < 0 {
			break
		}
		rest = rest[idx+len("pid="):]
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if pid, err := strconv.Atoi(rest[:end]); err == nil {
			found = append(found, Listener{PID: pid, Port: port})
		}
	}
	if len(found) == 0 {
		// ss without -p, or a socket owned by another user: keep the port
		// with no pid so callers can decide.
		found = append(found, Listener{Port: port})
	}
	return found
}

// portOfAddr pulls the port off "host:port", "*:port" or "[::]:port".
func portOfAddr(addr string) (int, bool) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 || idx == len(addr)-1 {
		return 0, false
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

// localProcessTree snapshots parent→children for every process on the hub
// host.
func localProcessTree() (map[int][]int, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	children := make(map[int][]int, len(procs))
	for _, p := range procs {
		children[p.PPid()] = append(children[p.PPid()], p.Pid())
	}
	return children, nil
}

// remoteProcessTree snapshots parent→children on a worker over SSH.
func remoteProcessTree(ctx context.Context, tunnels *tunnel.Manager, workerID string) (map[int][]int, error) {
	out, err := tunnels.Exec(ctx, workerID, pidTreeCommand)
	if err != nil {
		return nil, err
	}
	return ParsePidTree(out), nil
}

// ParsePidTree parses `ps -e -o pid=,ppid=` output into parent→children.
func ParsePidTree(out string) map[int][]int {
	children := make(map[int][]int)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		ppid, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		children[ppid] = append(children[ppid], pid)
	}
	return children
}

// Subtree returns root plus every descendant reachable through children.
func Subtree(root int, children map[int][]int) map[int]bool {
	seen := map[int]bool{root: true}
	queue := []int{root}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range children[pid] {
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	return seen
}
