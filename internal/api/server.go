package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vidscribe/vidscribe/internal/ingest"
	"github.com/vidscribe/vidscribe/internal/metrics"
	"github.com/vidscribe/vidscribe/internal/videos"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type ServerConfig struct {
	Addr          string
	Issuer        *ingest.Issuer
	Discovery     *ingest.Discovery
	Router        *ingest.Router
	Sweeper       *ingest.Sweeper
	Library       videos.Library
	DB            Pinger
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	APIToken      string
	WebhookSecret string
	ImageURL      string
	Version       string
	StartTime     time.Time

	// Now is used for webhook signature checks. Nil means time.Now.
	Now func() time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// check-upload with wait=true can hold a request for the whole poll.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
