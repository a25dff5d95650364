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
		log.Println("creating batch_payouts table...")
		if err := mghelper.CreateSchema(ctx, db, &payoutstore.BatchPayoutDao{}); err != nil {
			return err
		}
		err := mghelper.Exec(ctx, db,
			`ALTER TABLE batch_payouts
				ADD CONSTRAINT batch_payouts_distribution_fk
				FOREIGN KEY (distribution_id) REFERENCES distributions (id) ON DELETE CASCADE`,
			`ALTER TABLE batch_payouts
				ADD CONSTRAINT batch_payouts_holders_number_check CHECK (holders_number >= 0)`,
		)
		if err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &payoutstore.BatchPayoutDao{}, "distribution_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping batch_payouts table...")
		return mghelper.DropTables(ctx, db, &payoutstore.BatchPayoutDao{})
	})
}
