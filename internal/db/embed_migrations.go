package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations.
// Used by cmd/migrate and the authctl tool.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
