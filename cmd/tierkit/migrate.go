package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tierkit/migrations"
	"github.com/dmitrymomot/tierkit/pkg/config"
	"github.com/dmitrymomot/tierkit/pkg/mongo"
	"github.com/dmitrymomot/tierkit/pkg/pg"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply account store migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAppConfig()
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

// runMigrations applies the SQL schema for postgres and creates indexes for
// mongo. The in-memory store needs nothing.
func runMigrations(ctx context.Context, cfg AppConfig, log *slog.Logger) error {
	switch cfg.AccountStore {
	case storePostgres:
		var pcfg pg.Config
		if err := config.Load(&pcfg); err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, pcfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pg.Migrate(ctx, pool, pcfg, migrations.FS, log); err != nil {
			return err
		}
	case storeMongo:
		var mcfg mongo.Config
		if err := config.Load(&mcfg); err != nil {
			return err
		}
		client, err := mongo.New(ctx, mcfg)
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }()
		store := subscription.NewMongoStore(client.Database(mcfg.Database), subscription.DefaultAccountsCollection)
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
	default:
		log.InfoContext(ctx, "nothing to migrate", slog.String("account_store", cfg.AccountStore))
		return nil
	}
	log.InfoContext(ctx, "migrations applied", slog.String("account_store", cfg.AccountStore))
	return nil
}
