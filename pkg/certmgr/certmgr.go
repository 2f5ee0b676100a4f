// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package certmgr knows where the proxy's TLS certificate lives, whether it
// needs renewal, and how to drive the external ACME agent to obtain or
// renew it.
package certmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// acmeAgentCandidates are searched, in order, before falling back to a PATH
// lookup for the ACME client binary.
var acmeAgentCandidates = []string{
	"/usr/bin/certbot",
	"/usr/local/bin/certbot",
	"/snap/bin/certbot",
}

// RenewalInterval is how often the background renewal loop checks whether
// the certificate needs renewal.
const RenewalInterval = 12 * time.Hour

// CertPaths are the four filesystem paths derived deterministically from
// (baseDir, domain).
type CertPaths struct {
	CertDir     string
	CertPath    string
	KeyPath     string
	ACMEWebroot string
}

// Paths computes the CertPaths for baseDir/domain: baseDir/certs/<domain>/
// {fullchain.pem,privkey.pem} and baseDir/acme-webroot/.
func Paths(baseDir, domain string) CertPaths {
	certDir := filepath.Join(baseDir, "certs", domain)
	return CertPaths{
		CertDir:     certDir,
		CertPath:    filepath.Join(certDir, "fullchain.pem"),
		KeyPath:     filepath.Join(certDir, "privkey.pem"),
		ACMEWebroot: filepath.Join(baseDir, "acme-webroot"),
	}
}

// Manager drives the ACME agent and openssl to obtain, renew, and inspect
// the certificate living at the paths it owns.
type Manager struct {
	Paths  CertPaths
	Domain string
	Email  string

	logger zerolog.Logger
}

// New constructs a Manager for domain/email rooted at baseDir.
func New(baseDir, domain, email string) *Manager {
	return &Manager{
		Paths:  Paths(baseDir, domain),
		Domain: domain,
		Email:  email,
		logger: log.With().Str("component", "certmgr").Logger(),
	}
}

// HasCertificates reports whether both the certificate and key are present
// as regular files.
func (m *Manager) HasCertificates() bool {
	return isRegularFile(m.Paths.CertPath) && isRegularFile(m.Paths.KeyPath)
}

// NeedsRenewal reports whether the certificate is absent or, per the coarse
// policy described by the spec, whether `openssl x509 -enddate` fails or
// produces an unparseable notAfter= line. Any failure is treated as
// "renewal needed" — never the reverse.
func (m *Manager) NeedsRenewal(ctx context.Context) bool {
	if !m.HasCertificates() {
		return true
	}

	out, err := exec.CommandContext(ctx, "openssl", "x509", "-enddate", "-noout", "-in", m.Paths.CertPath).Output()
	if err != nil {
		return true
	}
	line := strings.TrimSpace(string(out))
	return !strings.HasPrefix(line, "notAfter=")
}

// Obtain invokes the ACME agent in non-interactive webroot mode to acquire
// a fresh certificate, then materializes it into Paths.CertDir.
func (m *Manager) Obtain(ctx context.Context) error {
	if err := os.MkdirAll(m.Paths.ACMEWebroot, 0o755); err != nil {
		return fmt.Errorf("create acme webroot: %w", err)
	}
	if err := os.MkdirAll(m.Paths.CertDir, 0o755); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}

	agent, err := findACMEAgent()
	if err != nil {
		return err
	}

	args := []string{
		"certonly",
		"--non-interactive",
		"--agree-tos",
		"--webroot",
		"--webroot-path", m.Paths.ACMEWebroot,
		"-d", m.Domain,
		"-m", m.Email,
	}
	if err := runAgent(ctx, agent, args); err != nil {
		return fmt.Errorf("obtain certificate: %w", err)
	}

	return m.materialize()
}

// Renew invokes the ACME agent's renew subcommand, then re-runs the
// materialization step.
func (m *Manager) Renew(ctx context.Context) error {
	agent, err := findACMEAgent()
	if err != nil {
		return err
	}

	if err := runAgent(ctx, agent, []string{"renew", "--non-interactive", "--quiet"}); err != nil {
		return fmt.Errorf("renew certificate: %w", err)
	}

	return m.materialize()
}

// RunRenewalLoop checks NeedsRenewal every RenewalInterval and calls Renew
// when needed. It runs until ctx is cancelled; errors are logged and the
// loop continues on the next tick.
func (m *Manager) RunRenewalLoop(ctx context.Context) {
	ticker := time.NewTicker(RenewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.NeedsRenewal(ctx) {
				continue
			}
			if err := m.Renew(ctx); err != nil {
				m.logger.Error().Err(err).Msg("certificate renewal failed; will retry next tick")
				continue
			}
			m.logger.Info().Msg("certificate renewed")
		}
	}
}

// materialize copies fullchain.pem and privkey.pem from the agent's
// canonical live directory into Paths.CertDir, but only when the
// destination is empty — this is a best-effort initial materialization,
// not an authority over what's already there.
func (m *Manager) materialize() error {
	if m.HasCertificates() {
		return nil
	}

	liveDir := filepath.Join("/etc/letsencrypt/live", m.Domain)
	if err := copyFile(filepath.Join(liveDir, "fullchain.pem"), m.Paths.CertPath); err != nil {
		return fmt.Errorf("materialize fullchain: %w", err)
	}
	if err := copyFile(filepath.Join(liveDir, "privkey.pem"), m.Paths.KeyPath); err != nil {
		return fmt.Errorf("materialize privkey: %w", err)
	}
	return nil
}

// findACMEAgent searches the well-known absolute paths, then falls back to
// a PATH lookup.
func findACMEAgent() (string, error) {
	for _, candidate := range acmeAgentCandidates {
		if isRegularFile(candidate) {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath("certbot"); err == nil {
		return path, nil
	}
	return "", errors.New("certbot not found: searched well-known paths and PATH")
}

// runAgent invokes the ACME agent with args, propagating its stderr as the
// error message on failure.
func runAgent(ctx context.Context, agent string, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, agent, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return errors.New(msg)
	}
	return nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
