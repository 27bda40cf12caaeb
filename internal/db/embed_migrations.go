package db

import "embed"

// MigrationFS holds the onboarding schema migrations applied by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
