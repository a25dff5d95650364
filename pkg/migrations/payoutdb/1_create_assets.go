package payoutdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/hashgraph/mass-payout/pkg/payoutstore"
	mghelper "github.com/hashgraph/mass-payout/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating assets table...")
		if err := mghelper.CreateSchema(ctx, db, &payoutstore.AssetDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &payoutstore.AssetDao{}, "sync_enabled")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping assets table...")
		return mghelper.DropTables(ctx, db, &payoutstore.AssetDao{})
	})
}
