// Package db carries the goose SQL migrations so tests and tools can apply them
// without depending on the working directory.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of the SQL files inside Migrations.
const MigrationsDir = "migrations"
