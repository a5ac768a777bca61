package server

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"

	"smallbiznis-missions/pkg/config"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TLS provides the shared *CertReloader used by the HTTP and gRPC servers.
var TLS = fx.Module("tls", fx.Provide(NewCertReloader))

// CertReloader serves the current key pair and swaps it whenever the files
// on disk change, so rotated certificates apply without a restart.
type CertReloader struct {
	mu       sync.RWMutex
	cert     *tls.Certificate
	certPath string
	keyPath  string
}

// NewCertReloader returns nil when TLS is disabled.
func NewCertReloader(lc fx.Lifecycle, cfg *config.Config) (*CertReloader, error) {
	if !cfg.TLS.Enable {
		return nil, nil
	}

	r := &CertReloader{certPath: cfg.TLS.CertPath, keyPath: cfg.TLS.KeyPath}
	if err := r.reload(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go r.watch(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return r, nil
}

func (r *CertReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

func (r *CertReloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, errors.New("no TLS certificate loaded")
	}
	return r.cert, nil
}

func (r *CertReloader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.getCertificate,
	}
}

func (r *CertReloader) watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zap.L().Error("tls: watcher unavailable, certificates will not reload", zap.Error(err))
		return
	}
	defer watcher.Close()

	for _, p := range []string{r.certPath, r.keyPath} {
		if err := watcher.Add(p); err != nil {
			zap.L().Warn("tls: cannot watch file", zap.String("path", p), zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := r.reload(); err != nil {
				zap.L().Error("tls: reload failed, keeping previous certificate", zap.Error(err))
				continue
			}
			zap.L().Info("tls: certificate reloaded", zap.String("path", event.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zap.L().Warn("tls: watcher error", zap.Error(err))
		}
	}
}
