// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package dispatch

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vibeterm/vibeproxy/pkg/config"
	"github.com/vibeterm/vibeproxy/pkg/wsproxy"
)

func TestIsWebSocketUpgrade(t *testing.T) {
	cases := []struct {
		header string
		want   bool
	}{
		{"websocket", true},
		{"WebSocket", true},
		{"WEBSOCKET", true},
		{"", false},
		{"h2c", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Upgrade", tc.header)
		}
		if got := IsWebSocketUpgrade(req); got != tc.want {
			t.Errorf("Upgrade=%q: got %v, want %v", tc.header, got, tc.want)
		}
	}
}

func TestParseSubprotocols(t *testing.T) {
	got := parseSubprotocols(" mqtt ,  soap,  json ")
	want := []string{"mqtt", "soap", "json"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	cfg := config.Config{Mode: config.ModeNoTLS, UpstreamHost: "127.0.0.1", UpstreamPort: 1, Port: 8080}
	// A Dispatcher with no HTTP forwarder panics with a nil pointer
	// dereference on any plain request; recoverPanic must still turn that
	// into a 500 rather than crashing the listener.
	d := New(nil, wsproxy.New(cfg))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rec.Code)
	}
	if rec.Body.String() != "Internal server error\n" {
		t.Fatalf("expected generic panic body, got %q", rec.Body.String())
	}
}
