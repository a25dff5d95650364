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
		log.Println("creating distributions table...")
		if err := mghelper.CreateSchema(ctx, db, &payoutstore.DistributionDao{}); err != nil {
			return err
		}
		err := mghelper.Exec(ctx, db,
			`ALTER TABLE distributions
				ADD CONSTRAINT distributions_asset_fk
				FOREIGN KEY (asset_id) REFERENCES assets (id) ON DELETE CASCADE`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_distributions_asset_corporate_action
				ON distributions (asset_id, corporate_action_id)
				WHERE corporate_action_id IS NOT NULL`,
		)
		if err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &payoutstore.DistributionDao{},
			"asset_id", "status", "execution_date", "corporate_action_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping distributions table...")
		return mghelper.DropTables(ctx, db, &payoutstore.DistributionDao{})
	})
}
