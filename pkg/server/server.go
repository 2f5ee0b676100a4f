// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package server wires the three top-level run modes (manual-TLS, auto-TLS,
// no-TLS), the certificate renewal background task, and the signal-driven
// graceful-shutdown coordinator.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vibeterm/vibeproxy/pkg/acmehttp"
	"github.com/vibeterm/vibeproxy/pkg/certmgr"
	"github.com/vibeterm/vibeproxy/pkg/config"
	"github.com/vibeterm/vibeproxy/pkg/dispatch"
	"github.com/vibeterm/vibeproxy/pkg/forward"
	"github.com/vibeterm/vibeproxy/pkg/tlsconfig"
	"github.com/vibeterm/vibeproxy/pkg/upstream"
	"github.com/vibeterm/vibeproxy/pkg/wsproxy"
)

const (
	// maxBodyBytes is the request-body limit enforced at the edge by
	// wrapWithBodyLimit.
	maxBodyBytes  = 500 << 20 // 500 MiB
	shutdownGrace = 10 * time.Second
	acmePort      = 80
)

// Run selects and executes one of the three server modes, blocking until
// graceful shutdown completes. It returns a non-nil error only for fatal
// startup or runtime failures; the caller should exit(1) on error.
func Run(cfg config.Config) error {
	switch cfg.Mode {
	case config.ModeAutoTLS:
		return runAutoTLS(cfg)
	case config.ModeManualTLS:
		return runManualTLS(cfg)
	case config.ModeNoTLS:
		return runNoTLS(cfg)
	default:
		return fmt.Errorf("unknown mode %v", cfg.Mode)
	}
}

// newDispatcherHandler builds the shared dispatcher and wraps it with the
// 500 MiB request-body limit installed at the edge.
func newDispatcherHandler(cfg config.Config) http.Handler {
	client := upstream.NewClient()
	d := dispatch.New(forward.New(cfg, client), wsproxy.New(cfg))
	return wrapWithBodyLimit(d)
}

// wrapWithBodyLimit rejects with 413 any request whose declared body length
// exceeds maxBodyBytes, before it reaches the dispatcher. A body without a
// declared length is capped at maxBodyBytes as it is read; reading past the
// cap fails, and the forwarder answers that failure with 400.
func wrapWithBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxBodyBytes {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func runNoTLS(cfg config.Config) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler: newDispatcherHandler(cfg),
	}

	logger := log.With().Str("component", "server").Str("mode", "no-tls").Logger()
	return serveAndWait(srv, logger, func() error { return srv.ListenAndServe() })
}

func runManualTLS(cfg config.Config) error {
	logger := log.With().Str("component", "server").Str("mode", "manual-tls").Logger()

	tlsCfg, err := tlsconfig.Load(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load TLS configuration: %w", err)
	}

	srv := &http.Server{
		Addr:      fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler:   newDispatcherHandler(cfg),
		TLSConfig: tlsCfg,
	}

	if cfg.WatchCerts {
		stopWatch, err := startCertWatch(cfg.CertPath, cfg.KeyPath, srv.TLSConfig, logger)
		if err != nil {
			return fmt.Errorf("start certificate watcher: %w", err)
		}
		defer stopWatch()
	}

	return serveAndWait(srv, logger, func() error { return srv.ListenAndServeTLS("", "") })
}

func runAutoTLS(cfg config.Config) error {
	baseDir, err := executableBaseDir()
	if err != nil {
		return fmt.Errorf("determine base directory: %w", err)
	}

	mgr := certmgr.New(baseDir, cfg.Domain, cfg.Email)
	logger := log.With().Str("component", "server").Str("mode", "auto-tls").Logger()

	if !mgr.HasCertificates() {
		logger.Info().Str("domain", cfg.Domain).Msg("obtaining initial certificate")
		if err := mgr.Obtain(context.Background()); err != nil {
			return fmt.Errorf("obtain initial certificate: %w", err)
		}
	}

	tlsCfg, err := tlsconfig.Load(mgr.Paths.CertPath, mgr.Paths.KeyPath)
	if err != nil {
		return fmt.Errorf("load TLS configuration: %w", err)
	}

	httpsSrv := &http.Server{
		Addr:      fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler:   newDispatcherHandler(cfg),
		TLSConfig: tlsCfg,
	}

	var reloader *certmgr.Reloader
	if cfg.WatchCerts {
		reloader, err = certmgr.NewReloader(mgr.Paths.CertPath, mgr.Paths.KeyPath)
		if err != nil {
			return fmt.Errorf("start certificate watcher: %w", err)
		}
		httpsSrv.TLSConfig.GetConfigForClient = reloader.GetConfigForClient
	}

	acmeSrv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", acmePort),
		Handler: acmehttp.New(mgr.Paths.ACMEWebroot, cfg.Port),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return runListener(httpsSrv, logger, func() error { return httpsSrv.ListenAndServeTLS("", "") })
	})

	g.Go(func() error {
		<-gctx.Done()
		return acmeSrv.Close()
	})
	g.Go(func() error {
		err := acmeSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error().Err(err).Msg("acme/redirect listener exited unexpectedly")
		return nil
	})

	g.Go(func() error {
		mgr.RunRenewalLoop(gctx)
		return nil
	})

	if reloader != nil {
		g.Go(func() error {
			if err := reloader.Watch(gctx); err != nil {
				logger.Error().Err(err).Msg("certificate watcher exited unexpectedly")
			}
			return nil
		})
	}

	go waitForSignal(cancel, logger, httpsSrv)

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// startCertWatch loads a Reloader for certPath/keyPath, installs it as
// tlsCfg's GetConfigForClient, and runs its Watch loop in the background
// until the returned stop func is called. Used by modes that don't already
// run an errgroup-supervised background task set (manual TLS).
func startCertWatch(certPath, keyPath string, tlsCfg *tls.Config, logger zerolog.Logger) (func(), error) {
	reloader, err := certmgr.NewReloader(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	tlsCfg.GetConfigForClient = reloader.GetConfigForClient

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := reloader.Watch(ctx); err != nil {
			logger.Error().Err(err).Msg("certificate watcher exited unexpectedly")
		}
	}()
	return cancel, nil
}

// serveAndWait starts listen (a blocking ListenAndServe call run in a
// goroutine) and waits for a shutdown signal, then drains srv with the
// standard 10s grace period.
func serveAndWait(srv *http.Server, logger zerolog.Logger, listen func() error) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting listener")
		errCh <- listen()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-stop:
		logger.Info().Msg("shutting down")
		return gracefulShutdown(srv, logger)
	}
}

// runListener is serveAndWait's listener-only half, used where the signal
// wait is owned by the caller (auto-TLS mode, where one signal handler
// coordinates three tasks).
func runListener(srv *http.Server, logger zerolog.Logger, listen func() error) error {
	logger.Info().Str("addr", srv.Addr).Msg("starting listener")
	err := listen()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// waitForSignal blocks for SIGINT/SIGTERM, then gracefully shuts down srv
// and cancels cancel so auxiliary tasks stop.
func waitForSignal(cancel context.CancelFunc, logger zerolog.Logger, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	gracefulShutdown(srv, logger)
	cancel()
}

// gracefulShutdown drains srv with a 10s grace period, force-closing on
// timeout or error.
func gracefulShutdown(srv *http.Server, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed; forcing close")
		if closeErr := srv.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("forced close failed")
			return closeErr
		}
	}
	return nil
}

// executableBaseDir returns the parent of the executable's parent
// directory, falling back to the current working directory.
func executableBaseDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}
	dir := filepath.Dir(filepath.Dir(exe))
	if dir == "" || dir == "." {
		return os.Getwd()
	}
	return dir, nil
}
