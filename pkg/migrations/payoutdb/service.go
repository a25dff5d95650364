// Package payoutdb holds the numbered migrations of the mass payout database
package payoutdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the mass payout database
var Migrations = migrate.NewMigrations()
