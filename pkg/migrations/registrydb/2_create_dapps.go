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
		log.Println("creating dapps and dapp_instances tables...")
		if err := mghelper.CreateSchema(ctx, db, &registrystore.DAppDao{}, &registrystore.InstanceDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &registrystore.DAppDao{}, "owner_id", "status"); err != nil {
			return err
		}
		if err := mghelper.CreateModelUniqueIndexes(ctx, db, &registrystore.InstanceDao{}, "key_digest"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &registrystore.InstanceDao{}, "dapp_id", "chain_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping dapps and dapp_instances tables...")
		return mghelper.DropTables(ctx, db, &registrystore.InstanceDao{}, &registrystore.DAppDao{})
	})
}
