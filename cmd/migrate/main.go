// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

// Command migrate applies, inspects, or rolls back the schema. Usage:
//
//	migrate up             apply all pending migrations
//	migrate status         print current and latest versions
//	migrate rollback N     roll back to version N (0 reverts everything)
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/store"
	"github.com/noctua-health/somnia/migrations"
)

func main() {
	log := logger.NewLogger("migrate")

	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.GetStructuredConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	ctx := context.Background()
	conn := store.NewConnection(cfg, log)
	if err := conn.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connecting to store")
	}
	defer conn.Close()

	runner := migrations.NewRunner(conn, log)
	if err := runner.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("initializing version table")
	}
	all := migrations.All()

	switch os.Args[1] {
	case "up":
		applied, err := runner.Migrate(ctx, all)
		if err != nil {
			log.Fatal().Err(err).Msg("migrating")
		}
		fmt.Printf("applied %d migration(s)\n", applied)

	case "status":
		current, err := runner.CurrentVersion(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("reading version")
		}
		latest := int64(0)
		if len(all) > 0 {
			latest = all[len(all)-1].Version
		}
		fmt.Printf("engine:  %s\ncurrent: %d\nlatest:  %d\n", conn.Type(), current, latest)

	case "rollback":
		if len(os.Args) < 3 {
			usage()
		}
		target, err := strconv.ParseInt(os.Args[2], 10, 64)
		if err != nil || target < 0 {
			usage()
		}
		reverted, err := runner.RollbackTo(ctx, target, all)
		if err != nil {
			log.Fatal().Err(err).Msg("rolling back")
		}
		fmt.Printf("reverted %d migration(s)\n", reverted)

	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate up | status | rollback N")
	os.Exit(2)
}
