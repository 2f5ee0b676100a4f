// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package forward

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/vibeterm/vibeproxy/pkg/config"
	"github.com/vibeterm/vibeproxy/pkg/upstream"
)

func testConfig(t *testing.T, upstreamPort int) config.Config {
	t.Helper()
	return config.Config{
		Mode:         config.ModeNoTLS,
		UpstreamHost: "127.0.0.1",
		UpstreamPort: upstreamPort,
		Port:         8080,
	}
}

func upstreamPortOf(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse upstream port: %v", err)
	}
	return port
}

func TestForwarderPlainGet(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/hello" {
			t.Errorf("unexpected upstream request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "hello")
	}))
	defer upstreamSrv.Close()

	f := New(testConfig(t, upstreamPortOf(t, upstreamSrv)), upstream.NewClient())

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	rec := httptest.NewRecorder()

	f.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("expected body 'hello', got %q", rec.Body.String())
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("missing strict-transport-security header")
	}
	if rec.Header().Get("Connection") != "" {
		t.Error("connection header must not be forwarded")
	}
}

func TestForwarderSetsForwardingHeaders(t *testing.T) {
	var gotHost, gotXFF, gotXRI, gotProto string
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotXRI = r.Header.Get("X-Real-Ip")
		gotProto = r.Header.Get("X-Forwarded-Proto")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstreamSrv.Close()

	cfg := testConfig(t, upstreamPortOf(t, upstreamSrv))
	f := New(cfg, upstream.NewClient())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:9999"
	rec := httptest.NewRecorder()

	f.ServeHTTP(rec, req)

	wantHost := cfg.UpstreamHost + ":" + strconv.Itoa(cfg.UpstreamPort)
	if gotHost != wantHost {
		t.Errorf("expected host %q, got %q", wantHost, gotHost)
	}
	if gotXFF != "198.51.100.7" {
		t.Errorf("expected x-forwarded-for 198.51.100.7, got %q", gotXFF)
	}
	if gotXRI != "198.51.100.7" {
		t.Errorf("expected x-real-ip 198.51.100.7, got %q", gotXRI)
	}
	if gotProto != "https" {
		t.Errorf("expected x-forwarded-proto https even in no-TLS mode, got %q", gotProto)
	}
}

func TestForwarderUpstreamDown(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	port := upstreamPortOf(t, upstreamSrv)
	upstreamSrv.Close() // nothing is listening anymore

	f := New(testConfig(t, port), upstream.NewClient())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()

	f.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestForwarderUpstreamTimeoutIsGatewayTimeout(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstreamSrv.Close()

	f := New(testConfig(t, upstreamPortOf(t, upstreamSrv)), upstream.NewClient())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()

	f.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
}

func TestForwarderPostBody(t *testing.T) {
	var gotBody []byte
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstreamSrv.Close()

	f := New(testConfig(t, upstreamPortOf(t, upstreamSrv)), upstream.NewClient())

	payload := "the quick brown fox"
	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(payload))
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()

	f.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if string(gotBody) != payload {
		t.Fatalf("expected upstream to receive %q, got %q", payload, gotBody)
	}
}
