package db

import "embed"

// MigrationFS holds the schema for users, roles, the credential procedure, and the audit log.
// Applied by internal/db/migrate (cmd/migrate and the integration tests).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
