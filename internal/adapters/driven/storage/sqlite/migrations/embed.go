// Package migrations holds the schema of the document store, applied in
// file-name order when the store opens.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
