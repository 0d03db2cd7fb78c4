// Package migrations holds the embedded schema of the matcher: subscriptions,
// the group message cache, the dedup ledger and per-pair analysis results.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS is the embedded migration set, shared by startup and the migrate CLI.
//
//go:embed *.sql
var FS embed.FS

// Run brings the schema up to date. Every entrypoint that opens the database
// calls this, so the bot, scan and migrate commands converge on one schema.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
