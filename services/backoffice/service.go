// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backoffice wires the coaching back office into a runnable
// HTTP service: the durable store, the usage ledger, the report-card
// cycle, debrief notes and the Prometheus metrics surface.
package backoffice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/smartalk-online/backoffice/pkg/logging"
	"github.com/smartalk-online/backoffice/services/backoffice/debriefs"
	"github.com/smartalk-online/backoffice/services/backoffice/handlers"
	"github.com/smartalk-online/backoffice/services/backoffice/ledger"
	"github.com/smartalk-online/backoffice/services/backoffice/observability"
	"github.com/smartalk-online/backoffice/services/backoffice/reportcards"
	"github.com/smartalk-online/backoffice/services/backoffice/storage"
	"github.com/smartalk-online/backoffice/services/backoffice/storage/badgerstore"
	"github.com/smartalk-online/backoffice/services/backoffice/telemetry"
)

// Service is the assembled back office.
//
// Build it with NewService, run the HTTP surface with Run, or drive
// the parts directly (the closeout CLI command uses CloseOut without
// a server).
type Service struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry

	store    storage.Store
	ledger   *ledger.Ledger
	cycle    *reportcards.Cycle
	closeout *reportcards.CloseOut
	debriefs *debriefs.Service
}

// NewService opens the store and wires all components. Call Close when
// done; metrics register on reg, which is also what /metrics serves. A
// nil reg gets a fresh registry.
func NewService(cfg Config, reg *prometheus.Registry) (*Service, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Service: "backoffice",
		JSON:    cfg.LogJSON,
	})
	metrics := observability.NewMetrics(reg)

	storeCfg := badgerstore.DefaultConfig(cfg.DataDir)
	if cfg.InMemory {
		storeCfg = badgerstore.InMemoryConfig()
	}
	storeCfg.Logger = logger
	storeCfg.Metrics = metrics

	store, err := badgerstore.Open(storeCfg)
	if err != nil {
		return nil, err
	}

	cycle := reportcards.NewCycle(store, cfg.HeadCoach, logger)
	return &Service{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		registry: reg,
		store:    store,
		ledger:   ledger.New(store, cycle, logger, metrics),
		cycle:    cycle,
		closeout: reportcards.NewCloseOut(store, cfg.HeadCoach, logger, nil),
		debriefs: debriefs.New(store, logger),
	}, nil
}

// Logger returns the service logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// TelemetryConfig returns the trace-export configuration.
func (s *Service) TelemetryConfig() telemetry.Config { return s.cfg.Telemetry }

// Close releases the store.
func (s *Service) Close() error {
	return s.store.Close()
}

// CloseOut runs one close-out pass over the expired reporting periods
// and records the outcome metric.
func (s *Service) CloseOut(ctx context.Context) (*reportcards.CloseOutReport, error) {
	report, err := s.closeout.Run(ctx)
	switch {
	case err == nil:
		s.metrics.CloseOutRun("ok")
	case isConsistencyError(err):
		s.metrics.CloseOutRun("consistency_error")
	default:
		s.metrics.CloseOutRun("error")
	}
	return report, err
}

func isConsistencyError(err error) bool {
	var cerr *reportcards.ConsistencyError
	return errors.As(err, &cerr)
}

// Router builds the HTTP router with all API routes under /v1 and the
// Prometheus scrape endpoint at /metrics.
func (s *Service) Router() *gin.Engine {
	if s.cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.cfg.Telemetry.ServiceName))
	if s.cfg.Debug {
		router.Use(gin.Logger())
	}

	h := handlers.NewHandlers(s.store, s.ledger, s.cycle, s.closeout, s.debriefs, s.logger)
	handlers.RegisterRoutes(router.Group("/v1"), h)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return router
}

// Run serves HTTP until ctx is cancelled, then drains in-flight
// requests for the configured grace period before returning.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("back office listening", "addr", s.cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		s.logger.Info("shutting down", "grace", s.cfg.ShutdownGrace())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
