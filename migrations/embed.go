// Package migrations embeds the schema migrations of the training-point
// tracker. Files are applied in dependency order; ties follow file name order.
package migrations

import "embed"

//go:embed *.yaml
var FS embed.FS
