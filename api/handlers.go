package api

import (
	"context"

	"github.com/agentide/c3/auth"
	"github.com/agentide/c3/db"
	"github.com/agentide/c3/ports"
	"github.com/agentide/c3/session"
	"github.com/agentide/c3/term"
	"github.com/agentide/c3/tunnel"
)

// Handlers carries the components every endpoint may need. One instance is
// built by the server and shared across requests; all fields are safe for
// concurrent use.
type Handlers struct {
	store    *db.Store
	auth     *auth.Service
	sessions *session.Manager
	mux      *term.Multiplexer
	tunnels  *tunnel.Manager
	ports    *ports.Scanner

	homeDir string

	// shutdownCtx is cancelled when the server begins shutdown; WebSocket
	// handlers use it to close their streams before the listener stops.
	shutdownCtx context.Context
}

// Options collects the handler dependencies.
type Options struct {
	Store       *db.Store
	Auth        *auth.Service
	Sessions    *session.Manager
	Mux         *term.Multiplexer
	Tunnels     *tunnel.Manager
	Ports       *ports.Scanner
	HomeDir     string
	ShutdownCtx context.Context
}

// NewHandlers wires the shared handler state.
func NewHandlers(opts Options) *Handlers {
	ctx := opts.ShutdownCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handlers{
		store:       opts.Store,
		auth:        opts.Auth,
		sessions:    opts.Sessions,
		mux:         opts.Mux,
		tunnels:     opts.Tunnels,
		ports:       opts.Ports,
		homeDir:     opts.HomeDir,
		shutdownCtx: ctx,
	}
}
