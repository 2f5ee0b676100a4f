// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package config parses the proxy's CLI flags into an immutable runtime
// configuration. Construction happens once at startup; the result is
// read-only thereafter.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
)

// Mode selects one of the three mutually-exclusive server runners.
type Mode int

const (
	// ModeAutoTLS obtains and renews its certificate via an external ACME agent.
	ModeAutoTLS Mode = iota
	// ModeManualTLS loads an operator-supplied certificate and key from disk.
	ModeManualTLS
	// ModeNoTLS serves plain HTTP; used for local development.
	ModeNoTLS
)

const (
	defaultTLSPort      = 8443
	defaultNoSSLPort    = 8080
	defaultUpstreamPort = 8081

	upstreamHost = "127.0.0.1"
)

// Config is the immutable, process-wide configuration derived from CLI
// arguments. All HTTP forwarding and certificate handling reads from this
// struct; nothing in the proxy mutates it after Load returns.
type Config struct {
	Mode Mode

	// UpstreamHost is fixed to loopback; the upstream is always co-located.
	UpstreamHost string
	UpstreamPort int

	// Port is the public bind port (HTTPS in TLS modes, HTTP in ModeNoTLS).
	Port int

	// CertPath/KeyPath are populated only in ModeManualTLS.
	CertPath string
	KeyPath  string

	// Domain/Email are populated only in ModeAutoTLS.
	Domain string
	Email  string

	// WatchCerts enables hot-reloading the certificate/key pair from disk
	// without a restart. Only meaningful in ModeManualTLS and ModeAutoTLS.
	WatchCerts bool
}

// Load parses args (typically os.Args[1:]) into a Config, validating the
// mutually-exclusive flag sets from the proxy's CLI contract. The process is
// expected to exit 1 with a usage message if Load returns an error.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("vibeproxy", pflag.ContinueOnError)
	fs.SortFlags = false

	autoSSL := fs.Bool("auto-ssl", false, "obtain and renew a certificate via an ACME agent")
	domain := fs.String("domain", "", "domain name to request a certificate for (required with --auto-ssl)")
	email := fs.String("email", "", "registration email for the ACME account (required with --auto-ssl)")

	certPath := fs.String("cert", "", "path to a PEM certificate chain (manual TLS)")
	keyPath := fs.String("key", "", "path to a PEM private key (manual TLS)")

	noSSL := fs.Bool("no-ssl", false, "serve plain HTTP with no TLS termination")
	watchCerts := fs.Bool("watch-certs", false, "hot-reload the certificate/key pair from disk instead of requiring a restart (manual or auto TLS only)")

	port := fs.Int("port", defaultTLSPort, "public bind port (default 8443 for TLS modes, 8080 for --no-ssl)")
	upstreamPort := fs.Int("upstream-port", defaultUpstreamPort, "loopback port the upstream application listens on")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	portExplicit := fs.Changed("port")

	cfg := Config{
		UpstreamHost: upstreamHost,
		UpstreamPort: *upstreamPort,
	}

	switch {
	case *autoSSL:
		if *domain == "" || *email == "" {
			return Config{}, errors.New("--auto-ssl requires --domain and --email")
		}
		cfg.Mode = ModeAutoTLS
		cfg.Domain = *domain
		cfg.Email = *email
		cfg.Port = *port
		cfg.WatchCerts = *watchCerts

	case *certPath != "" || *keyPath != "":
		if *certPath == "" || *keyPath == "" {
			return Config{}, errors.New("manual TLS requires both --cert and --key")
		}
		cfg.Mode = ModeManualTLS
		cfg.CertPath = *certPath
		cfg.KeyPath = *keyPath
		cfg.Port = *port
		cfg.WatchCerts = *watchCerts

	case *noSSL:
		if *watchCerts {
			return Config{}, errors.New("--watch-certs requires --auto-ssl or --cert/--key")
		}
		cfg.Mode = ModeNoTLS
		cfg.Port = defaultNoSSLPort
		// An explicit --port overrides the default, except that 8443 (the
		// TLS default), whether unset or given explicitly, becomes 8080.
		if portExplicit && *port != defaultTLSPort {
			cfg.Port = *port
		}

	default:
		return Config{}, errors.New("one of --auto-ssl, --cert/--key, or --no-ssl must be given")
	}

	if cfg.UpstreamPort <= 0 || cfg.UpstreamPort > 65535 {
		return Config{}, fmt.Errorf("invalid --upstream-port %d", cfg.UpstreamPort)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid --port %d", cfg.Port)
	}

	return cfg, nil
}
