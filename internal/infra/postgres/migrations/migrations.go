// Package migrations holds the Postgres schema of the service.
package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()
