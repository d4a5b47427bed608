// Package migrations embeds the credential and audit schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/mqtt-access/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
