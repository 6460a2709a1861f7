package db

import "embed"

// MigrationFS embeds the schema for identities, login attempts, OTP challenges, sessions,
// allow-list entries, security alerts, and audit logs. Applied by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
