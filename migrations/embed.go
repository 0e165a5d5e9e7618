// Package migrations embeds the SQL migration files so deployments and
// integration tests run the exact schema compiled into the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
