// Package httpapi exposes the escrow engine over HTTP. Every mutating route
// requires a bearer token whose subject becomes the caller account.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ThorbenD/htlc-rental-escrow/escrow"
)

type Server struct {
	engine *escrow.Engine
	auth   *Authenticator
	logger *slog.Logger
	router *gin.Engine
}

func NewServer(engine *escrow.Engine, auth *Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: engine,
		auth:   auth,
		logger: logger,
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/listings/:id", s.getListing)

	authed := s.router.Group("/", s.auth.Middleware())
	authed.POST("/invoices", s.requestInvoice)
	authed.POST("/listings", s.publish)
	authed.POST("/listings/:id/rent", s.rentStart)
	authed.POST("/listings/:id/unlock", s.unlock)
	authed.POST("/listings/:id/refund", s.refund)
	authed.POST("/listings/:id/renew", s.renew)
	authed.POST("/listings/:id/return-deposit", s.returnDeposit)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"caller", callerFrom(c),
			"duration", time.Since(start),
		)
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🌐 [HTTP] Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("🌐 [HTTP] Stopped")
	return nil
}
