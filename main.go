package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentide/c3/auth"
	"github.com/agentide/c3/config"
	"github.com/agentide/c3/log"
	"github.com/agentide/c3/server"
)

const usage = `c3 - hub for interactive coding agent sessions

Usage:
  c3 start [flags]     run the hub
  c3 activate <key>    install a license key for remote access

Start flags:
  --port int        listen port (default 3000)
  --host string     bind address (default 127.0.0.1)
  --tls             serve HTTPS with --cert/--key
  --cert string     TLS certificate file
  --key string      TLS private key file
  --self-signed     serve HTTPS with a generated certificate
  --no-auth         disable license auth on non-loopback binds
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "start":
		runStart(os.Args[2:])
	case "activate":
		runActivate(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func runStart(args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("start", flag.ExitOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "bind address")
	fs.BoolVar(&cfg.TLSEnabled, "tls", cfg.TLSEnabled, "serve HTTPS with --cert/--key")
	fs.StringVar(&cfg.TLSCert, "cert", cfg.TLSCert, "TLS certificate file")
	fs.StringVar(&cfg.TLSKey, "key", cfg.TLSKey, "TLS private key file")
	fs.BoolVar(&cfg.SelfSigned, "self-signed", cfg.SelfSigned, "serve HTTPS with a generated certificate")
	fs.BoolVar(&cfg.NoAuth, "no-auth", cfg.NoAuth, "disable license auth on non-loopback binds")
	fs.Parse(args)

	log.Setup(cfg.LogLevel, cfg.IsDevelopment())

	if cfg.TLSEnabled && (cfg.TLSCert == "" || cfg.TLSKey == "") {
		log.Fatal().Msg("--tls requires --cert and --key (or use --self-signed)")
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	printNetworkAddresses(cfg)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func runActivate(args []string) {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintln(os.Stderr, "usage: c3 activate <license-key>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	payload, err := auth.ValidateLicense(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid license key: %v\n", err)
		os.Exit(1)
	}
	if err := auth.WriteLicenseFile(cfg.LicensePath, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "failed to store license: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("License activated for %s (%s plan, %d concurrent sessions).\n",
		payload.Email, payload.Plan, payload.MaxSessions)
	if t, err := time.Parse(time.RFC3339, payload.ExpiresAt); err == nil {
		fmt.Printf("Valid until %s.\n", t.Format("2006-01-02"))
	}
	fmt.Printf("Stored in %s; the hub picks it up on next start.\n", cfg.LicensePath)
}

// printNetworkAddresses logs the LAN URLs the hub is reachable at so users
// can open the UI from other devices.
func printNetworkAddresses(cfg *config.Config) {
	switch cfg.Host {
	case "127.0.0.1", "::1", "localhost":
		return
	}

	scheme := "http"
	if cfg.TLSEnabled || cfg.SelfSigned {
		scheme = "https"
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					log.Info().Str("url", fmt.Sprintf("%s://%s:%d", scheme, ip4.String(), cfg.Port)).Msg("network")
				}
			}
		}
	}
}
