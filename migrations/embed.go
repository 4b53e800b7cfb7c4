// Package migrations embeds the schema files and applies them with
// golang-migrate. The binary and the test harness share [Up] so both run the
// same schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
