package registrydb

import (
	"context"
	"log"

	mghelper "github.com/chainsafe/paymaster-middleware/pkg/pgutil/migrations"
	"github.com/chainsafe/paymaster-middleware/pkg/registrystore"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating ledger_entries table...")
		if err := mghelper.CreateSchema(ctx, db, &registrystore.LedgerEntryDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &registrystore.LedgerEntryDao{}, "type", "chain_id", "dapp_id", "quote_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping ledger_entries table...")
		return mghelper.DropTables(ctx, db, &registrystore.LedgerEntryDao{})
	})
}
