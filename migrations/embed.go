// Package migrations embeds the SQL schema files for the session store.
// Embedding keeps the analyzer a single binary that can migrate any
// database path it is pointed at.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
