// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Noctua Health

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// parseEnv fills cfg from the process environment. Variable names are
// resolved from the `env` and `envPrefix` tags on [StructuredConfig] and
// its nested sections, so e.g. Backup.MaxAge reads BACKUP_MAX_AGE.
func parseEnv(cfg *StructuredConfig) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrParsingEnv, err)
	}
	return nil
}
