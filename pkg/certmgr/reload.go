// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package certmgr

import (
	"context"
	"crypto/tls"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/vibeterm/vibeproxy/pkg/tlsconfig"
)

// Reloader watches a certificate/key pair for changes and keeps an
// atomically-swappable *tls.Config in sync with what's on disk. This is
// supplemental to the core design, which reloads only at process restart
// (see the spec's documented limitation); it must never block graceful
// shutdown, so its watcher goroutine is always cancelled when the server
// stops (alongside the renewal loop in auto-TLS mode), not waited on.
type Reloader struct {
	certPath string
	keyPath  string
	current  atomic.Pointer[tls.Config]
}

// NewReloader loads certPath/keyPath once synchronously and returns a
// Reloader primed with that initial configuration.
func NewReloader(certPath, keyPath string) (*Reloader, error) {
	cfg, err := tlsconfig.Load(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	r := &Reloader{certPath: certPath, keyPath: keyPath}
	r.current.Store(cfg)
	return r, nil
}

// Current returns the most recently loaded *tls.Config.
func (r *Reloader) Current() *tls.Config {
	return r.current.Load()
}

// GetConfigForClient is suitable for tls.Config.GetConfigForClient, always
// returning the latest reloaded configuration.
func (r *Reloader) GetConfigForClient(*tls.ClientHelloInfo) (*tls.Config, error) {
	return r.Current(), nil
}

// Watch blocks, reloading the certificate whenever certPath or keyPath is
// written or renamed, until ctx is cancelled. Reload failures are ignored;
// the previous configuration stays in effect until a valid pair appears.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.certPath); err != nil {
		return err
	}
	if err := watcher.Add(r.keyPath); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if cfg, err := tlsconfig.Load(r.certPath, r.keyPath); err == nil {
				r.current.Store(cfg)
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
