package migrations

import "embed"

// FS embeds the SQL migrations for the SQLite document store.
//
//go:embed *.sql
var FS embed.FS
