package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/tierkit/pkg/config"
	"github.com/dmitrymomot/tierkit/pkg/httpserver"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/mongo"
	"github.com/dmitrymomot/tierkit/pkg/pg"
	"github.com/dmitrymomot/tierkit/pkg/redis"
	"github.com/dmitrymomot/tierkit/pkg/requestid"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/usage"
)

// accountStore is what the service needs from the account backend.
type accountStore interface {
	subscription.UserStore
	subscription.CustomerIndex
}

// infra holds the backends selected by configuration and how to release them.
type infra struct {
	accounts    accountStore
	counters    usage.Store
	usagePrefix string
	checks      []httpserver.Check
	closers     []func(context.Context) error
}

func newLogger(cfg AppConfig) *slog.Logger {
	return logger.New(
		logger.WithEnvironment(cfg.Env, cfg.ServiceName),
		logger.WithContextExtractors(requestid.LogExtractor()),
	)
}

func wireInfra(ctx context.Context, cfg AppConfig, log *slog.Logger) (_ *infra, err error) {
	in := &infra{usagePrefix: "usage"}
	defer func() {
		if err != nil {
			in.close(context.WithoutCancel(ctx), log)
		}
	}()

	switch cfg.AccountStore {
	case storePostgres:
		var pcfg pg.Config
		if err := config.Load(&pcfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, pcfg)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, func(context.Context) error { pool.Close(); return nil })
		in.checks = append(in.checks, httpserver.Check{Name: "postgres", Probe: pg.Healthcheck(pool)})
		in.accounts = subscription.NewPostgresStore(pool)

	case storeMongo:
		var mcfg mongo.Config
		if err := config.Load(&mcfg); err != nil {
			return nil, err
		}
		client, err := mongo.New(ctx, mcfg)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, client.Disconnect)
		in.checks = append(in.checks, httpserver.Check{Name: "mongo", Probe: mongo.Healthcheck(client)})
		store := subscription.NewMongoStore(client.Database(mcfg.Database), subscription.DefaultAccountsCollection)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		in.accounts = store

	default:
		log.WarnContext(ctx, "using in-memory account store, records are lost on restart")
		in.accounts = subscription.NewMemoryStore()
	}

	switch cfg.UsageStore {
	case storeRedis:
		var rcfg redis.Config
		if err := config.Load(&rcfg); err != nil {
			return nil, err
		}
		client, err := redis.Connect(ctx, rcfg)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, func(context.Context) error { return client.Close() })
		in.checks = append(in.checks, httpserver.Check{Name: "redis", Probe: redis.Healthcheck(client)})
		in.counters = usage.NewRedisStore(client)
		if rcfg.KeyPrefix != "" {
			in.usagePrefix = rcfg.KeyPrefix + ":usage"
		}

	default:
		counters := usage.NewMemoryStore()
		in.closers = append(in.closers, func(context.Context) error { return counters.Close() })
		in.counters = counters
	}

	return in, nil
}

// close releases backends in reverse order of acquisition.
func (in *infra) close(ctx context.Context, log *slog.Logger) {
	var errs []error
	for i := len(in.closers) - 1; i >= 0; i-- {
		errs = append(errs, in.closers[i](ctx))
	}
	if err := errors.Join(errs...); err != nil {
		log.ErrorContext(ctx, "failed to release backends", logger.Error(err))
	}
}
