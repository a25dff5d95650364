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
		log.Println("creating holders table...")
		if err := mghelper.CreateSchema(ctx, db, &payoutstore.HolderDao{}); err != nil {
			return err
		}
		err := mghelper.Exec(ctx, db,
			`ALTER TABLE holders
				ADD CONSTRAINT holders_batch_payout_fk
				FOREIGN KEY (batch_payout_id) REFERENCES batch_payouts (id) ON DELETE CASCADE`,
			`ALTER TABLE holders
				ADD CONSTRAINT holders_retry_counter_check CHECK (retry_counter >= 0)`,
		)
		if err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &payoutstore.HolderDao{},
			"batch_payout_id", "status, next_retry_at")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping holders table...")
		return mghelper.DropTables(ctx, db, &payoutstore.HolderDao{})
	})
}
