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
		log.Println("creating chains and pools tables...")
		if err := mghelper.CreateSchema(ctx, db, &registrystore.ChainConfigDao{}, &registrystore.PoolDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelUniqueIndexes(ctx, db, &registrystore.PoolDao{}, "chain_id"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &registrystore.PoolDao{}, "mode")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping chains and pools tables...")
		return mghelper.DropTables(ctx, db, &registrystore.PoolDao{}, &registrystore.ChainConfigDao{})
	})
}
