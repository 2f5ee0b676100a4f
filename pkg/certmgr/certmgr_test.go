// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package certmgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPathsDerivation(t *testing.T) {
	p := Paths("/srv/vibeproxy", "example.com")

	if p.CertDir != filepath.Join("/srv/vibeproxy", "certs", "example.com") {
		t.Fatalf("unexpected cert dir: %s", p.CertDir)
	}
	if p.CertPath != filepath.Join(p.CertDir, "fullchain.pem") {
		t.Fatalf("unexpected cert path: %s", p.CertPath)
	}
	if p.KeyPath != filepath.Join(p.CertDir, "privkey.pem") {
		t.Fatalf("unexpected key path: %s", p.KeyPath)
	}
	if p.ACMEWebroot != filepath.Join("/srv/vibeproxy", "acme-webroot") {
		t.Fatalf("unexpected webroot: %s", p.ACMEWebroot)
	}
}

func TestNeedsRenewalWhenCertificatesAbsent(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, "example.com", "ops@example.com")

	if m.HasCertificates() {
		t.Fatal("expected no certificates in a fresh temp dir")
	}
	if !m.NeedsRenewal(context.Background()) {
		t.Fatal("expected renewal needed when certificates are absent")
	}
}

func TestHasCertificatesTrueWhenBothFilesExist(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, "example.com", "ops@example.com")

	if err := os.MkdirAll(m.Paths.CertDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(m.Paths.CertPath, []byte("cert"), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(m.Paths.KeyPath, []byte("key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	if !m.HasCertificates() {
		t.Fatal("expected HasCertificates to be true once both files exist")
	}
}
