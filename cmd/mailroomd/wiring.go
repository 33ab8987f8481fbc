package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rbaliyan/mailroom"
	"github.com/rbaliyan/mailroom/directory"
	"github.com/rbaliyan/mailroom/internal/config"
	"github.com/rbaliyan/mailroom/push"
	"github.com/rbaliyan/mailroom/ratelimit"
	"github.com/rbaliyan/mailroom/resolver"
	"github.com/rbaliyan/mailroom/retry"
	"github.com/rbaliyan/mailroom/store"
	"github.com/rbaliyan/mailroom/store/memory"
	mongostore "github.com/rbaliyan/mailroom/store/mongo"
	"github.com/rbaliyan/mailroom/store/postgres"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// app holds everything the daemon built, in the order it must be torn
// down.
type app struct {
	svc     mailroom.Service
	users   directory.Directory
	hub     *push.Hub
	closers []func(context.Context) error
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases every backend in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// build dials the configured backends and connects the mailroom service.
// With withPush false the push hub and the rate limiter are skipped, which
// is what one-shot commands want.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, withPush bool) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()
	policy := retry.DefaultPolicy()

	var mongoClient *mongo.Client
	if cfg.Store.Driver == "mongo" || cfg.Directory.Driver == "mongo" {
		mongoClient, err = mongo.Connect(options.Client().ApplyURI(cfg.Store.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("mongo client: %w", err)
		}
		a.onClose(mongoClient.Disconnect)
		err = retry.Do(ctx, "ping mongo", policy, func(ctx context.Context) error {
			return mongoClient.Ping(ctx, nil)
		}, retry.WithLogger(logger))
		if err != nil {
			return nil, err
		}
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.onClose(func(context.Context) error { return rc.Close() })
		err = retry.Do(ctx, "ping redis", policy, func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		}, retry.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		redisClient = rc
	}

	st, err := openStore(cfg, mongoClient, logger, a)
	if err != nil {
		return nil, err
	}

	a.users, err = openDirectory(ctx, cfg, mongoClient, a)
	if err != nil {
		return nil, err
	}

	accessPolicy, err := mailroom.ParseAccessPolicy(cfg.Mailbox.AccessPolicy)
	if err != nil {
		return nil, err
	}

	opts := []mailroom.Option{
		mailroom.WithStore(st),
		mailroom.WithResolver(resolver.NewDirectory(a.users)),
		mailroom.WithLogger(logger),
		mailroom.WithAccessPolicy(accessPolicy),
		mailroom.WithMaxConcurrentSends(cfg.Mailbox.MaxConcurrentSends),
		mailroom.WithTrashRetention(cfg.Mailbox.TrashRetention),
		mailroom.WithNotifyTimeout(cfg.Mailbox.NotifyTimeout),
		mailroom.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		mailroom.WithOTel(true),
	}
	if redisClient != nil {
		opts = append(opts, mailroom.WithRedisClient(redisClient))
	}
	if withPush {
		// The hub goes last: a failed Init rolls back earlier plugins only.
		if cfg.Mailbox.SendRate > 0 {
			opts = append(opts, mailroom.WithPlugin(ratelimit.New(
				ratelimit.WithRate(cfg.Mailbox.SendRate),
				ratelimit.WithBurst(cfg.Mailbox.SendBurst),
				ratelimit.WithLogger(logger),
			)))
		}
		hubOpts := []push.Option{push.WithLogger(logger)}
		if redisClient != nil {
			hubOpts = append(hubOpts, push.WithRelay(push.NewRedisRelay(redisClient, push.WithRelayLogger(logger))))
		}
		a.hub = push.NewHub(hubOpts...)
		opts = append(opts, mailroom.WithPlugin(a.hub))
	}

	svc, err := mailroom.NewService(opts...)
	if err != nil {
		return nil, err
	}
	if err := retry.Do(ctx, "connect mailroom", policy, svc.Connect, retry.WithLogger(logger)); err != nil {
		return nil, err
	}
	a.svc = svc
	a.onClose(svc.Close)
	return a, nil
}

func openStore(cfg *config.Config, mongoClient *mongo.Client, logger *slog.Logger, a *app) (store.Store, error) {
	switch cfg.Store.Driver {
	case "mongo":
		return mongostore.New(mongoClient,
			mongostore.WithDatabase(cfg.Store.MongoDatabase),
			mongostore.WithLogger(logger),
		), nil
	case "postgres":
		db, err := sqlx.Open("postgres", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.onClose(func(context.Context) error { return db.Close() })
		return postgres.New(db, postgres.WithLogger(logger)), nil
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func openDirectory(ctx context.Context, cfg *config.Config, mongoClient *mongo.Client, a *app) (directory.Directory, error) {
	switch cfg.Directory.Driver {
	case "mongo":
		return directory.NewMongo(ctx, mongoClient, directory.WithMongoDatabase(cfg.Store.MongoDatabase))
	case "sqlite":
		db, err := directory.OpenSQLite(cfg.Directory.SQLitePath)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.onClose(func(context.Context) error { return sqlDB.Close() })
		}
		return directory.NewGorm(db)
	case "memory":
		return directory.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown directory driver %q", cfg.Directory.Driver)
}
