package pgstore

import (
	_ "embed"
	"strings"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL for the session and command tables with change triggers
// notifying on channel.
func Schema(channel string) string {
	return strings.ReplaceAll(schemaSQL, "{{channel}}", pq.QuoteLiteral(channel))
}
