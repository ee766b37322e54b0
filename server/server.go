// Copyright 2026 Pondera Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pondera-systems/pondera/fallback"
	"github.com/pondera-systems/pondera/ingest"
	"github.com/pondera-systems/pondera/retrieval"
	"github.com/pondera-systems/pondera/storage"
)

var (
	// ErrPipelineRequired is returned when an ingestion pipeline is not provided.
	ErrPipelineRequired = errors.New("ingestion pipeline required")

	// ErrEngineRequired is returned when a retrieval engine is not provided.
	ErrEngineRequired = errors.New("retrieval engine required")

	// ErrStoreRequired is returned when a metadata store is not provided.
	ErrStoreRequired = errors.New("metadata store required")
)

// Server wires the HTTP surface over the pipelines.
type Server struct {
	echo          *echo.Echo
	pipeline      *ingest.Pipeline
	engine        *retrieval.Engine
	coordinator   *fallback.Coordinator
	store         storage.MetadataStore
	queryDeadline time.Duration
	logger        *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithFallback enables web-search augmentation for queries the
// knowledge base cannot answer. Without it, such queries return
// insufficient-kb with any below-threshold material.
func WithFallback(coordinator *fallback.Coordinator) Option {
	return func(s *Server) error {
		s.coordinator = coordinator
		return nil
	}
}

// WithQueryDeadline bounds each query request. Default 30s.
func WithQueryDeadline(d time.Duration) Option {
	return func(s *Server) error {
		if d > 0 {
			s.queryDeadline = d
		}
		return nil
	}
}

// NewServer creates the HTTP server.
func NewServer(
	pipeline *ingest.Pipeline,
	engine *retrieval.Engine,
	store storage.MetadataStore,
	opts ...Option,
) (*Server, error) {
	if pipeline == nil {
		return nil, ErrPipelineRequired
	}
	if engine == nil {
		return nil, ErrEngineRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}

	s := &Server{
		pipeline:      pipeline,
		engine:        engine,
		store:         store,
		queryDeadline: 30 * time.Second,
		logger:        slog.Default().With("component", "server"),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	s.echo = e
	s.routes()

	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)

	s.echo.POST("/sources", s.handleCreateSource)
	s.echo.GET("/sources", s.handleListSources)
	s.echo.GET("/sources/:id/items", s.handleListItems)
	s.echo.POST("/sources/:id/process", s.handleProcessSource)

	s.echo.GET("/jobs/:id", s.handleGetJob)

	s.echo.POST("/query", s.handleQuery)
	s.echo.POST("/generate", s.handleGenerate)
}

// Handler exposes the underlying HTTP handler. Used in tests.
func (s *Server) Handler() *echo.Echo {
	return s.echo
}

// Start serves until the context is canceled, then drains in-flight
// jobs before returning.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.pipeline.Wait()
	return nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				"method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	})
}
