package migrations

import (
	_ "embed"

	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_schema.sql
var createSchemaSQL string

//go:embed 0002_attempt_constraints.sql
var attemptConstraintsSQL string

var Migrations = migrate.NewMigrations()
