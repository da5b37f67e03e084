// Package migrations embeds SQL migration files into the binary.
//
// The workspace schema (documents and variables) ships inside the binary, so
// the hub and blockctl can migrate a database without the SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
}
