// Package migrations holds the embedded SQL migration files for the
// local archive database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
