// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

// Package server exposes the operator HTTP API: health probes, backup
// management, audit reporting, and the data-subject rights endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/noctua-health/somnia/internal/audit"
	"github.com/noctua-health/somnia/internal/backup"
	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/privacy"
	"github.com/noctua-health/somnia/internal/store"
)

// Server is the operator API. Every endpoint except the liveness probe sits
// behind bearer authentication.
type Server struct {
	cfg       config.Ops
	conn      store.Connection
	backups   *backup.Service
	scheduler *backup.Scheduler
	auditor   *audit.Service
	privacy   *privacy.Service
	logger    *logger.Logger

	http *http.Server
}

// New wires the operator API. scheduler may be nil when the process runs
// without background backups.
func New(cfg config.Ops, tokenSignKey string, conn store.Connection, backups *backup.Service,
	scheduler *backup.Scheduler, auditor *audit.Service, privacySvc *privacy.Service, log *logger.Logger) *Server {

	s := &Server{
		cfg:       cfg,
		conn:      conn,
		backups:   backups,
		scheduler: scheduler,
		auditor:   auditor,
		privacy:   privacySvc,
		logger:    log,
	}

	if tokenSignKey == "" {
		log.Warn().Msg("ops api authentication disabled: no token sign key configured")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(requestLogger(log))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(tokenSignKey, log))

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", s.handleListBackups)
			r.Post("/run", s.handleRunBackup)
			r.Post("/{id}/verify", s.handleVerifyBackup)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", s.handleQueryAudit)
			r.Get("/stats", s.handleAuditStats)
		})

		r.Route("/privacy/users/{id}", func(r chi.Router) {
			r.Get("/export", s.handleExportUser)
			r.Delete("/", s.handleEraseUser)
		})
	})

	s.http = &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	return s
}

// Run serves until ctx is canceled, then drains with a shutdown grace
// period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("func", "Run").Str("address", s.cfg.Address).Msg("ops api listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
