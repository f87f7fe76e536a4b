// Command promoflashd wires the promoflash services together: configuration,
// logging, the shared Redis client, the durable store, and the seckill
// pipeline. HTTP exposure is left to the deployment's API layer; this binary
// owns construction and orderly shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/rueidis"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/promoflash/promoflash/cache"
	"github.com/promoflash/promoflash/config"
	"github.com/promoflash/promoflash/dlock"
	"github.com/promoflash/promoflash/idgen"
	"github.com/promoflash/promoflash/internal/keys"
	"github.com/promoflash/promoflash/seckill"
	"github.com/promoflash/promoflash/shop"
	"github.com/promoflash/promoflash/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("bad log level %q: %w", cfg.LogLevel, err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Redis.Addrs,
		Password:     cfg.Redis.Password,
		SelectDB:     cfg.Redis.DB,
		DisableCache: true,
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer client.Close()

	db, err := gorm.Open(sqlite.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	st, err := store.New(db)
	if err != nil {
		return err
	}

	locker := dlock.NewLocker(client, dlock.WithLogger(log))
	cacheClient, err := cache.NewClient(client, locker, cache.Options{
		NullTTL:        cfg.Cache.NullTTL,
		RebuildWorkers: cfg.Cache.RebuildWorkers,
		RebuildBacklog: cfg.Cache.RebuildBacklog,
		TTLJitter:      cfg.Cache.TTLJitter,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer cacheClient.Close()

	ids := idgen.New(client)
	orders, err := seckill.New(client, locker, ids, st, seckill.Options{
		QueueSize:      cfg.Seckill.QueueSize,
		OrderLockTTL:   cfg.Seckill.OrderLockTTL,
		PersistTimeout: cfg.Seckill.PersistTimeout,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer orders.Close()

	shops := shop.New(cacheClient, st)
	if len(cfg.PrewarmShopIDs) > 0 {
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := shops.Prewarm(warmCtx, cfg.PrewarmShopIDs, keys.CacheShopTTL)
		cancel()
		if err != nil {
			return fmt.Errorf("prewarm: %w", err)
		}
	}

	log.Debug("promoflashd started", "redis", cfg.Redis.Addrs)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Debug("promoflashd shutting down, draining order queue")
	return nil
}
