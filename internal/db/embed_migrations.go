package db

import "embed"

// MigrationFS embeds the Postgres migrations for the credential slot table.
// Used by the migrate runner (cmd/migrate) when CREDENTIAL_STORE=postgres.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
