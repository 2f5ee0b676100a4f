// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package forward implements the HTTP forwarding path: it consumes an
// inbound request, reshapes its headers, reads the body into memory and sends
// it to the upstream, and streams the response back with security headers
// applied.
package forward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vibeterm/vibeproxy/pkg/config"
	"github.com/vibeterm/vibeproxy/pkg/headers"
)

// httpError wraps a status code with the underlying error from the upstream
// round trip, so ServeHTTP can recover the intended status with errors.As
// instead of re-inspecting the error.
type httpError struct {
	Status int
	Err    error
}

func (e *httpError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Status, e.Err)
}

func (e *httpError) Unwrap() error {
	return e.Err
}

// Forwarder performs exactly one upstream request per inbound request and
// streams the response back to the client.
type Forwarder struct {
	cfg    config.Config
	client *http.Client
	logger zerolog.Logger
}

// New constructs a Forwarder over the shared upstream client.
func New(cfg config.Config, client *http.Client) *Forwarder {
	return &Forwarder{
		cfg:    cfg,
		client: client,
		logger: log.With().Str("component", "forward").Logger(),
	}
}

// ServeHTTP forwards r to the upstream and streams the response to w. Method,
// path, and query are preserved verbatim; the path is "/" when absent.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	event := f.logger.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Logger()

	// Set before any response is written, so the proxy's own error
	// responses carry the security headers too.
	headers.ApplySecurity(w.Header())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		event.Error().Err(err).Msg("failed to read request body")
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	pathAndQuery := r.URL.RequestURI()
	if pathAndQuery == "" {
		pathAndQuery = "/"
	}
	targetURL := fmt.Sprintf("http://%s:%d%s", f.cfg.UpstreamHost, f.cfg.UpstreamPort, pathAndQuery)

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		event.Error().Err(err).Msg("failed to build upstream request")
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	applyRequestHeaders(upstreamReq.Header, r.Header, f.cfg, peerIP(r.RemoteAddr))
	upstreamReq.Host = upstreamReq.Header.Get("Host")

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		err = classifyRoundTripError(err)
		status := http.StatusBadGateway
		var httpErr *httpError
		if errors.As(err, &httpErr) {
			status = httpErr.Status
		}
		event.Error().Err(err).Int("status", status).Dur("duration", time.Since(start)).Msg("upstream request failed")
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer resp.Body.Close()

	applyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		event.Error().Err(err).Dur("duration", time.Since(start)).Msg("failed to stream response body")
		return
	}

	event.Info().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request forwarded")
}

// applyRequestHeaders implements the §4.2 request-side header policy: copy
// every non-hop-by-hop inbound header, overwrite Host, and set the
// forwarding headers.
func applyRequestHeaders(dst, src http.Header, cfg config.Config, peer string) {
	headers.Copy(dst, src)
	dst.Set("Host", fmt.Sprintf("%s:%d", cfg.UpstreamHost, cfg.UpstreamPort))
	dst.Set("X-Forwarded-For", peer)
	dst.Set("X-Real-Ip", peer)
	// Hard-coded even in no-TLS mode; see the spec's open question on this
	// behaviour (the upstream always believes it is addressed behind TLS).
	dst.Set("X-Forwarded-Proto", "https")
}

// applyResponseHeaders implements the §4.2 response-side header policy:
// upstream headers minus hop-by-hop minus Content-Length, with the fixed
// security-header set always present.
func applyResponseHeaders(dst, src http.Header) {
	headers.Copy(dst, src)
	dst.Del("Content-Length")
	headers.StripHopByHop(dst)
	headers.ApplySecurity(dst)
}

// classifyRoundTripError recognizes context cancellation, context deadlines,
// and network timeouts and wraps them as a 504 httpError; anything else
// passes through unchanged and falls back to the default 502 in ServeHTTP.
func classifyRoundTripError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &httpError{Status: http.StatusGatewayTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &httpError{Status: http.StatusGatewayTimeout, Err: err}
	}
	return err
}

// peerIP extracts the IP portion of a "host:port" remote address, falling
// back to the raw value if it cannot be split.
func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
