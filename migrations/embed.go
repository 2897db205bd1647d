// Package migrations embeds the softbus schema migrations into the binary.
package migrations

import "embed"

// FS holds the *.up.sql / *.down.sql files. Pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
