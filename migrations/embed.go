// Package migrations embeds the PostgreSQL schema migrations run by goose.
package migrations

import "embed"

// FS holds every goose migration file.
//
//go:embed *.sql
var FS embed.FS
