// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package tlsconfig parses a PEM certificate chain and private key from
// disk into a server-side TLS configuration with client authentication
// disabled.
package tlsconfig

import (
	"crypto/tls"
	"fmt"
)

// Load reads certPath and keyPath and builds a *tls.Config suitable for a
// server listener. It fails with a descriptive error when either file
// cannot be opened, the chain or key fail to parse, or the pair is
// mismatched.
func Load(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load certificate pair (%s, %s): %w", certPath, keyPath, err)
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("certificate chain at %s contains no certificates", certPath)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
