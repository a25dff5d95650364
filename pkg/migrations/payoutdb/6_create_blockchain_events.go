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
		log.Println("creating blockchain_events table...")
		if err := mghelper.CreateSchema(ctx, db, &payoutstore.BlockchainEventDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &payoutstore.BlockchainEventDao{}, "from_address", "to_address")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping blockchain_events table...")
		return mghelper.DropTables(ctx, db, &payoutstore.BlockchainEventDao{})
	})
}
