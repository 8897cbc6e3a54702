// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/noctua-health/somnia/internal/audit"
	"github.com/noctua-health/somnia/internal/backup"
	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/crypto"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/privacy"
	"github.com/noctua-health/somnia/internal/server"
	"github.com/noctua-health/somnia/internal/store"
	"github.com/noctua-health/somnia/migrations"
)

func main() {
	log := logger.NewLogger("server")

	cfg, err := config.GetStructuredConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := store.NewConnection(cfg, log)
	if err := conn.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connecting to store")
	}
	defer conn.Close()

	runner := migrations.NewRunner(conn, log)
	applied, err := runner.Migrate(ctx, migrations.All())
	if err != nil {
		log.Fatal().Err(err).Msg("applying migrations")
	}
	if applied > 0 {
		log.Info().Int("applied", applied).Msg("migrations applied")
	}

	phi, err := crypto.NewPHIManager(cfg.Encryption, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing field encryption")
	}

	users := store.NewUserRepository(conn, phi, log)
	diary := store.NewDiaryRepository(conn, phi, log)
	assessments := store.NewAssessmentRepository(conn, phi, log)
	sessions := store.NewSessionRepository(conn, log)
	if _, err := sessions.PurgeExpired(ctx); err != nil {
		log.Error().Err(err).Msg("purging expired sessions")
	}

	auditor := audit.NewService(conn, cfg.Audit, log)
	privacySvc := privacy.NewService(conn, users, diary, assessments, auditor, log)

	var uploader backup.Uploader
	if cfg.Backup.S3Bucket != "" {
		s3up, err := backup.NewS3Uploader(ctx, cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("initializing s3 uploader")
		}
		uploader = s3up
	}

	var notifier backup.Notifier
	if cfg.Backup.AlertWebhookURL != "" {
		notifier = backup.NewWebhookNotifier(cfg.Backup.AlertWebhookURL, log)
	}

	backups := backup.NewService(conn, cfg.Backup, phi.Service(), uploader, log)
	scheduler := backup.NewScheduler(backups, cfg.Backup, notifier, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	ops := server.New(cfg.Ops, cfg.App.TokenSignKey, conn, backups, scheduler, auditor, privacySvc, log)
	if err := ops.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("ops api")
	}

	if _, err := auditor.Cleanup(context.Background()); err != nil {
		log.Error().Err(err).Msg("audit retention cleanup")
	}
	log.Info().Msg("shutdown complete")
}
