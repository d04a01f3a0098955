// Package migrations embeds the goose SQL migration files into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/dispatch-auth/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
}
