// Package migrations embeds the goose SQL migrations of the mirror store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
