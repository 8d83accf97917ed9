// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/periodarr/periodarr/internal/api/handlers"
	"github.com/periodarr/periodarr/internal/config"
	"github.com/periodarr/periodarr/internal/downloads"
	"github.com/periodarr/periodarr/internal/importer"
	"github.com/periodarr/periodarr/internal/matching"
	"github.com/periodarr/periodarr/internal/models"
	"github.com/periodarr/periodarr/internal/providers"
	"github.com/periodarr/periodarr/internal/scheduler"
	"github.com/periodarr/periodarr/internal/tracking"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	scheduler       *scheduler.Scheduler
	submissionStore *models.SubmissionStore
	periodicalStore *models.PeriodicalStore
	trackingStore   *models.TrackingStore
	engine          *tracking.Engine
	search          *providers.Gateway
	downloads       *downloads.Gateway
	importer        *importer.Importer
	matcher         *matching.Matcher
}

type Dependencies struct {
	Config  *config.AppConfig
	Version string

	Scheduler       *scheduler.Scheduler
	SubmissionStore *models.SubmissionStore
	PeriodicalStore *models.PeriodicalStore
	TrackingStore   *models.TrackingStore
	Engine          *tracking.Engine
	Search          *providers.Gateway
	Downloads       *downloads.Gateway
	Importer        *importer.Importer
	Matcher         *matching.Matcher
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:          log.Logger.With().Str("module", "api").Logger(),
		config:          deps.Config,
		version:         deps.Version,
		scheduler:       deps.Scheduler,
		submissionStore: deps.SubmissionStore,
		periodicalStore: deps.PeriodicalStore,
		trackingStore:   deps.TrackingStore,
		engine:          deps.Engine,
		search:          deps.Search,
		downloads:       deps.Downloads,
		importer:        deps.Importer,
		matcher:         deps.Matcher,
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}
	clickableURL := fmt.Sprintf("http://%s%s", host, s.config.Config.BaseURL)

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: %s", clickableURL)

	s.server.Handler = s.Handler()

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// Use faster compression levels for better proxy performance
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
		Debug:            false,
	})
	r.Use(corsMiddleware.Handler)

	tasksHandler := handlers.NewTasksHandler(s.scheduler)
	queueHandler := handlers.NewQueueHandler(s.submissionStore, s.downloads, s.matcher)
	searchHandler := handlers.NewSearchHandler(s.search, s.engine)
	trackingHandler := handlers.NewTrackingHandler(s.engine, s.trackingStore)
	importHandler := handlers.NewImportHandler(s.importer, s.config.Config.DownloadsDir)
	healthHandler := handlers.NewHealthHandler(s.version)

	apiRouter := chi.NewRouter()
	apiRouter.Route("/health", healthHandler.Routes)
	apiRouter.Route("/tasks", tasksHandler.Routes)
	apiRouter.Route("/queue", queueHandler.Routes)
	apiRouter.Route("/search", searchHandler.Routes)
	apiRouter.Route("/tracking", trackingHandler.Routes)
	apiRouter.Route("/import", importHandler.Routes)

	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}

	if baseURL == "/" {
		r.Mount("/api", apiRouter)
	} else {
		r.Route(strings.TrimSuffix(baseURL, "/"), func(r chi.Router) {
			r.Mount("/api", apiRouter)
		})
	}

	return r
}
