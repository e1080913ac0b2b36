// Package bootstrap wires configuration into the adapters shared by the
// groundsync binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/samirrijal/groundsync/internal/adapters/docstore"
	natsadapter "github.com/samirrijal/groundsync/internal/adapters/nats"
	"github.com/samirrijal/groundsync/internal/adapters/postgres"
	"github.com/samirrijal/groundsync/internal/adapters/remote"
	"github.com/samirrijal/groundsync/internal/adapters/valkey"
	"github.com/samirrijal/groundsync/internal/core/usecases"
	"github.com/samirrijal/groundsync/internal/pkg/config"
	"github.com/samirrijal/groundsync/internal/workflows"
)

// EngineConfig maps the sync section onto the engine's tuning knobs.
func EngineConfig(c config.SyncConfig) usecases.SyncConfig {
	return usecases.SyncConfig{
		RetryBudget:      c.RetryBudget,
		AttemptsPerDrain: c.AttemptsPerDrain,
		InitialBackoff:   c.InitialBackoff,
		MaxBackoff:       c.MaxBackoff,
		Concurrency:      c.Concurrency,
		WritesPerSecond:  c.WritesPerSecond,
		Burst:            c.Burst,
	}
}

// ActivityTimeouts bounds the background drain activity for the sync section.
func ActivityTimeouts(c config.SyncConfig) workflows.ActivityTimeouts {
	return workflows.TimeoutsFor(EngineConfig(c), c.DrainTimeout)
}

// Local is the on-device store.
type Local struct {
	DB    *postgres.DB
	Store *postgres.LocalStore
}

// OpenLocal connects to the local database.
func OpenLocal(ctx context.Context, cfg *config.Config) (*Local, error) {
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return &Local{DB: db, Store: postgres.NewLocalStore(db)}, nil
}

func (l *Local) Close() { l.DB.Close() }

// Remote is the shared document store: Valkey holds the documents and NATS
// JetStream carries their change notifications.
type Remote struct {
	Documents *valkey.Documents
	Feed      *natsadapter.Feed
	Store     *remote.Store
}

// OpenRemote connects to Valkey and NATS.
func OpenRemote(cfg *config.Config) (*Remote, error) {
	docs, err := valkey.New(cfg.Valkey.Addr, cfg.Valkey.Password)
	if err != nil {
		return nil, err
	}
	feed, err := natsadapter.NewFeed(cfg.NATS.URL)
	if err != nil {
		docs.Close()
		return nil, err
	}
	return &Remote{
		Documents: docs,
		Feed:      feed,
		Store:     remote.NewStore(docstore.New(docs, feed)),
	}, nil
}

func (r *Remote) Close() {
	r.Feed.Close()
	r.Documents.Close()
}
