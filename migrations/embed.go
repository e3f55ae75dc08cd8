// Package migrations embeds the SQL schema into the binary and registers it
// with the database package. Import it for its side effect.
package migrations

import (
	"embed"

	"github.com/nerrad567/easywallbox-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	Register()
}

// Register points the database package at the embedded schema. Tests that
// swap database.MigrationsFS call it to restore the real files.
func Register() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
