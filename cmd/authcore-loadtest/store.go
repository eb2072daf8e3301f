package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/tokenwarden/authcore/internal/config"
	"github.com/tokenwarden/authcore/storage"
	"github.com/tokenwarden/authcore/storage/gormstore"
	"github.com/tokenwarden/authcore/storage/mongostore"
	"github.com/tokenwarden/authcore/storage/redisstore"
)

// openStore builds the configured backend. The memory driver runs redisstore
// against an in-process miniredis.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		log.Info("using miniredis", slog.String("addr", mr.Addr()))
		return redisstore.New(client, redisstore.WithPrefix(cfg.Redis.Prefix)), func() {
			_ = client.Close()
			mr.Close()
		}, nil

	case config.DriverRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		log.Info("using redis", slog.String("addr", cfg.Redis.Addr))
		return redisstore.New(client, redisstore.WithPrefix(cfg.Redis.Prefix)), func() { _ = client.Close() }, nil

	case config.DriverPostgres, config.DriverMySQL, config.DriverSQLite:
		store, err := gormstore.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.AutoMigrate(); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		log.Info("using sql store", slog.String("driver", cfg.Storage.Driver))
		return store, func() { _ = store.Close() }, nil

	case config.DriverMongo:
		store, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using mongo", slog.String("database", cfg.Mongo.Database))
		return store, func() { _ = store.Close(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
}
