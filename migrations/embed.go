// Package migrations holds the Postgres schema used by the self-hosted search backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
