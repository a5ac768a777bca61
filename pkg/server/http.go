package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"smallbiznis-missions/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHttpServer),
	fx.Invoke(Run),
)

type Server struct {
	server *http.Server
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler *gin.Engine
	Certs   *CertReloader `optional:"true"`
}

func NewHttpServer(p Params) *Server {
	cfg := p.Config
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Addr),
		Handler:      p.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if p.Certs != nil {
		srv.TLSConfig = p.Certs.TLSConfig()
	}
	return &Server{server: srv}
}

func (s *Server) serve() error {
	if s.server.TLSConfig != nil {
		return s.server.ListenAndServeTLS("", "")
	}
	return s.server.ListenAndServe()
}

func Run(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("Starting HTTP server",
				zap.String("addr", srv.server.Addr),
				zap.Bool("tls", srv.server.TLSConfig != nil),
			)
			go func() {
				if err := srv.serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("HTTP server exited", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down HTTP server")
			return srv.server.Shutdown(ctx)
		},
	})
}
