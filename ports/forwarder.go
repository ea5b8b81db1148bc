package ports

import (
	"sync"

	"github.com/agentide/c3/tunnel"
)

// Forwarder owns the local listeners that proxy detected remote ports back
// to the hub host, so a browser next to the hub can reach a dev server that
// lives on a worker.
type Forwarder struct {
	tunnels *tunnel.Manager

	mu     sync.Mutex
	active map[string]map[int]*forward // sessionID → remote port
}

type forward struct {
	localPort int
	stop      func()
}

func NewForwarder(tunnels *tunnel.Manager) *Forwarder {
	return &Forwarder{
		tunnels: tunnels,
		active:  make(map[string]map[int]*forward),
	}
}

// Ensure opens a local forward for a session's remote port, or returns the
// one already open. The local port is OS-assigned.
func (f *Forwarder) Ensure(workerID, sessionID string, remotePort int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fw, ok := f.active[sessionID][remotePort]; ok {
		return fw.localPort, nil
	}

	localPort, stop, err := f.tunnels.ForwardPort(workerID, remotePort)
	if err != nil {
		return 0, err
	}
	if f.active[sessionID] == nil {
		f.active[sessionID] = make(map[int]*forward)
	}
	f.active[sessionID][remotePort] = &forward{localPort: localPort, stop: stop}
	return localPort, nil
}

// LocalPort reports the local end of a session's forward, if one is open.
func (f *Forwarder) LocalPort(sessionID string, remotePort int) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fw, ok := f.active[sessionID][remotePort]
	if !ok {
		return 0, false
	}
	return fw.localPort, true
}

// Drop closes the forward for one remote port of a session.
func (f *Forwarder) Drop(sessionID string, remotePort int) {
	f.mu.Lock()
	fw, ok := f.active[sessionID][remotePort]
	if ok {
		delete(f.active[sessionID], remotePort)
		if len(f.active[sessionID]) == 0 {
			delete(f.active, sessionID)
		}
	}
	f.mu.Unlock()
	if ok {
		fw.stop()
	}
}

// DropSession closes every forward a session holds.
func (f *Forwarder) DropSession(sessionID string) {
	f.mu.Lock()
	fws := f.active[sessionID]
	delete(f.active, sessionID)
	f.mu.Unlock()
	for _, fw := range fws {
		fw.stop()
	}
}

// Shutdown closes all forwards.
func (f *Forwarder) Shutdown() {
	f.mu.Lock()
	all := f.active
	f.active = make(map[string]map[int]*forward)
	f.mu.Unlock()
	for _, fws := range all {
		for _, fw := range fws {
			fw.stop()
		}
	}
}
