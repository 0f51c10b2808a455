package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	cfhttp "github.com/Strob0t/ReviewForge/internal/adapter/http"
	"github.com/Strob0t/ReviewForge/internal/adapter/memory"
	cfnats "github.com/Strob0t/ReviewForge/internal/adapter/nats"
	"github.com/Strob0t/ReviewForge/internal/adapter/natskv"
	"github.com/Strob0t/ReviewForge/internal/adapter/postgres"
	"github.com/Strob0t/ReviewForge/internal/adapter/ristretto"
	"github.com/Strob0t/ReviewForge/internal/adapter/tiered"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/port/cache"
	"github.com/Strob0t/ReviewForge/internal/port/database"
	"github.com/Strob0t/ReviewForge/internal/port/eventstore"
	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
)

// infra holds the storage, messaging and cache backends. Queue is nil in
// memory mode.
type infra struct {
	Store       database.Store
	Events      eventstore.Store
	Queue       messagequeue.Queue
	DiffCache   cache.Cache
	Idempotency cache.Cache
	Checks      map[string]cfhttp.HealthCheck

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (i *infra) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
}

func openInfra(ctx context.Context, cfg *config.Config, memoryMode bool) (_ *infra, err error) {
	in := &infra{Checks: make(map[string]cfhttp.HealthCheck)}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	// L1 cache, shared by diff memoization and idempotency replay.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	in.closers = append(in.closers, l1.Close)
	diffL1, idemL1 := l1.Namespace("diff"), l1.Namespace("idem")
	in.DiffCache = diffL1
	in.Idempotency = idemL1

	if memoryMode {
		in.Store = memory.NewStore()
		in.Events = memory.NewEventStore()
		slog.Info("running with in-memory storage")
		return in, nil
	}

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	in.closers = append(in.closers, pool.Close)
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	in.Store = postgres.NewStore(pool)
	in.Events = postgres.NewEventStore(pool)
	in.Checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }

	// NATS
	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	in.closers = append(in.closers, func() {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	})
	in.Queue = queue
	in.Checks["nats"] = func(context.Context) error {
		if !queue.IsConnected() {
			return errors.New("disconnected")
		}
		return nil
	}

	// L2 caches in JetStream KV
	diffKV, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return nil, err
	}
	in.DiffCache = tiered.New(diffL1, natskv.New(diffKV), cfg.Cache.DiffTTL)

	idemKV, err := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return nil, err
	}
	in.Idempotency = tiered.New(idemL1, natskv.New(idemKV), cfg.Idempotency.TTL)

	return in, nil
}
