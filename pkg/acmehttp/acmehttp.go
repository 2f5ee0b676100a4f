// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package acmehttp implements the plain HTTP listener that exists only in
// auto-TLS mode: it serves ACME HTTP-01 challenge tokens from a webroot and
// redirects every other request to HTTPS.
package acmehttp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const challengePrefix = "/.well-known/acme-challenge/"

// Handler serves ACME challenge tokens and redirects everything else.
type Handler struct {
	Webroot   string
	HTTPSPort int

	logger zerolog.Logger
}

// New constructs a Handler rooted at webroot, redirecting non-challenge
// traffic to httpsPort.
func New(webroot string, httpsPort int) *Handler {
	return &Handler{
		Webroot:   webroot,
		HTTPSPort: httpsPort,
		logger:    log.With().Str("component", "acmehttp").Logger(),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, challengePrefix) {
		h.serveChallenge(w, r)
		return
	}
	h.redirectToHTTPS(w, r)
}

// serveChallenge resolves the token against the webroot and returns its
// contents, 404 if missing, 500 if unreadable. The token is rejected outright
// if it contains a path separator or traverses out of the challenge
// directory, since this handler runs unauthenticated on port 80 ahead of any
// mux that would otherwise clean "../" segments out of the request path.
func (h *Handler) serveChallenge(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, challengePrefix)
	if token == "" || strings.ContainsAny(token, "/\\") {
		http.NotFound(w, r)
		return
	}

	dir := filepath.Join(h.Webroot, ".well-known", "acme-challenge")
	path := filepath.Join(dir, token)
	if rel, err := filepath.Rel(dir, path); err != nil || strings.HasPrefix(rel, "..") {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil || !info.Mode().IsRegular() {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Debug().Err(err).Str("token", token).Msg("failed to stream challenge file")
	}
}

// redirectToHTTPS 301-redirects every non-challenge request to the HTTPS
// port, using the Host header (falling back to "localhost") to compute the
// target host.
func (h *Handler) redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	host := hostWithoutPort(r.Host)
	if host == "" {
		host = "localhost"
	}

	target := fmt.Sprintf("https://%s:%d%s", host, h.HTTPSPort, r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// hostWithoutPort strips a trailing ":port" from host, if present.
func hostWithoutPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		if _, err := strconv.Atoi(host[idx+1:]); err == nil {
			return host[:idx]
		}
	}
	return host
}
