// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package wsproxy performs the downstream WebSocket upgrade, opens a
// matching upstream WebSocket connection, and splices the two into a
// bidirectional relay until either side closes.
package wsproxy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vibeterm/vibeproxy/pkg/config"
	"github.com/vibeterm/vibeproxy/pkg/wsbridge"
)

// forwardedRequestHeaders lists the only two inbound headers carried onto
// the upstream WebSocket dial; everything else (including Origin and
// Sec-WebSocket-Protocol beyond what the library negotiates) is dropped.
var forwardedRequestHeaders = []string{"Cookie", "Authorization"}

// Proxy upgrades inbound WebSocket requests and relays them to the upstream.
type Proxy struct {
	cfg    config.Config
	logger zerolog.Logger
}

// New constructs a WebSocket Proxy.
func New(cfg config.Config) *Proxy {
	return &Proxy{
		cfg:    cfg,
		logger: log.With().Str("component", "wsproxy").Logger(),
	}
}

// ServeHTTP upgrades r, dials the upstream, and relays messages until either
// side closes. headerSnapshot and subprotocols are captured by the
// dispatcher before control reaches this handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request, headerSnapshot http.Header, subprotocols []string) {
	event := p.logger.With().Str("path", r.URL.Path).Logger()

	upgrader := wsbridge.Upgrader
	upgrader.Subprotocols = subprotocols

	downConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		event.Debug().Err(err).Msg("downstream upgrade failed")
		return
	}
	defer downConn.Close()

	upURL := fmt.Sprintf("ws://%s:%d%s", p.cfg.UpstreamHost, p.cfg.UpstreamPort, r.URL.RequestURI())

	dialHeaders := make(http.Header)
	for _, name := range forwardedRequestHeaders {
		if v := headerSnapshot.Get(name); v != "" {
			dialHeaders.Set(name, v)
		}
	}

	upConn, resp, err := wsbridge.Dialer.Dial(upURL, dialHeaders)
	if err != nil {
		event.Debug().Err(err).Msg("upstream dial failed")
		return
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer upConn.Close()

	relay(r.Context(), downConn, upConn, event)
}

// relay runs the two directions of the bridge concurrently. Both
// ReadMessage calls block on I/O, not on ctx, so when one direction's pump
// returns, relay forces the peer's blocked read to unblock by closing both
// connections outright rather than relying on cancellation alone. This keeps
// the "closing one side closes the other within one scheduling tick"
// contract instead of leaking a goroutine until the OS times out the socket.
func relay(ctx context.Context, downConn, upConn *wsbridge.Conn, event zerolog.Logger) {
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := pump(downConn, upConn, event, "downstream->upstream")
		downConn.Close()
		upConn.Close()
		return err
	})
	g.Go(func() error {
		err := pump(upConn, downConn, event, "upstream->downstream")
		upConn.Close()
		downConn.Close()
		return err
	})

	if err := g.Wait(); err != nil && !wsbridge.IsNormalClose(err) {
		event.Debug().Err(err).Msg("websocket relay ended")
	}
}

// pump reads messages from src, translates them through wsbridge, and writes
// them to dst until src's read fails (either because the peer closed the
// connection or because the caller force-closed src from the other pump
// goroutine) or a write fails. A close frame received from src arrives as a
// KindClose message from wsbridge.ReadMessage and is written to dst before
// the loop exits.
func pump(src, dst *wsbridge.Conn, event zerolog.Logger, direction string) error {
	for {
		msg, err := wsbridge.ReadMessage(src)
		if err != nil {
			return err
		}

		if err := wsbridge.WriteMessage(dst, msg); err != nil {
			event.Debug().Err(err).Str("direction", direction).Msg("write to peer failed")
			return err
		}

		if msg.Kind == wsbridge.KindClose {
			return nil
		}
	}
}
