// Package migrations ships the SQL schema and seed files inside the
// relaygate binaries.
package migrations

import "embed"

//go:embed sql seeds
var FS embed.FS

const (
	SQLDir   = "sql"
	SeedsDir = "seeds"
)
