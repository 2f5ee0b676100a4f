// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package dispatch classifies each inbound request as HTTP or WebSocket
// upgrade and routes it to the matching forwarding path, wrapping every
// dispatched request in a panic boundary.
package dispatch

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vibeterm/vibeproxy/pkg/forward"
	"github.com/vibeterm/vibeproxy/pkg/wsproxy"
)

// Dispatcher routes each request to the HTTP forwarder or the WebSocket
// proxy, recovering from any panic raised while handling it.
type Dispatcher struct {
	http   *forward.Forwarder
	ws     *wsproxy.Proxy
	logger zerolog.Logger
}

// New constructs a Dispatcher over the given forwarder and WebSocket proxy.
func New(httpForwarder *forward.Forwarder, wsProxy *wsproxy.Proxy) *Dispatcher {
	return &Dispatcher{
		http:   httpForwarder,
		ws:     wsProxy,
		logger: log.With().Str("component", "dispatch").Logger(),
	}
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer d.recoverPanic(w, r)

	if IsWebSocketUpgrade(r) {
		headerSnapshot := r.Header.Clone()
		subprotocols := parseSubprotocols(r.Header.Get("Sec-WebSocket-Protocol"))
		d.ws.ServeHTTP(w, r, headerSnapshot, subprotocols)
		return
	}

	d.http.ServeHTTP(w, r)
}

// recoverPanic maps an unexpected fault in the handler to a 500 response
// and logs the panic payload, without terminating the listener.
func (d *Dispatcher) recoverPanic(w http.ResponseWriter, r *http.Request) {
	rec := recover()
	if rec == nil {
		return
	}

	d.logger.Error().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Interface("panic", rec).
		Msg("recovered from panic while handling request")

	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

// IsWebSocketUpgrade reports whether r requests a WebSocket upgrade: the
// Upgrade header must exist and case-insensitively equal "websocket".
func IsWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// parseSubprotocols splits the Sec-WebSocket-Protocol header on commas,
// trimming whitespace from each entry, so the downstream upgrade can echo
// the client's preferences.
func parseSubprotocols(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
