package payoutdb

import (
	"context"
	"log"
	"time"

	"github.com/uptrace/bun"

	"github.com/hashgraph/mass-payout/pkg/payoutstore"
	mghelper "github.com/hashgraph/mass-payout/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating blockchain_event_listener_config table...")
		if err := mghelper.CreateSchema(ctx, db, &payoutstore.ListenerConfigDao{}); err != nil {
			return err
		}
		// one row per deployment
		err := mghelper.Exec(ctx, db,
			`ALTER TABLE blockchain_event_listener_config
				ADD CONSTRAINT listener_config_singleton_check CHECK (id = 1)`,
		)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = db.NewInsert().
			Model(&payoutstore.ListenerConfigDao{
				ID:        payoutstore.ListenerConfigID,
				CreatedAt: now,
				UpdatedAt: now,
			}).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping blockchain_event_listener_config table...")
		return mghelper.DropTables(ctx, db, &payoutstore.ListenerConfigDao{})
	})
}
