package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/kozaktomas/facesnap/internal/config"
	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/database/bolt"
	"github.com/kozaktomas/facesnap/internal/database/memory"
	"github.com/kozaktomas/facesnap/internal/database/postgres"
	"github.com/rs/zerolog/log"
)

// openStore opens the configured storage backend. PostgreSQL migrations are
// applied on connect.
func openStore(ctx context.Context, cfg *config.Config) (database.EncodingStore, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		log.Debug().Msg("connecting to PostgreSQL")
		pool, err := postgres.Initialize(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		return postgres.NewStore(pool), nil
	case config.BackendBolt:
		log.Debug().Str("path", cfg.Store.BoltPath).Msg("opening bolt store")
		store, err := bolt.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendMemory:
		log.Warn().Msg("using in-memory store, nothing will be persisted")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func policyFromConfig(cfg config.PolicyConfig) clustering.Policy {
	return clustering.Policy{
		Dimension:           cfg.Dimension,
		SimilarityThreshold: cfg.SimilarityThreshold,
		TieBreakGap:         cfg.TieBreakGap,
		PopulationRatio:     cfg.PopulationRatio,
		MaxConflictRetries:  cfg.MaxConflictRetries,
	}
}

// setup loads the config and opens the store and engine shared by most commands.
// The caller closes the returned store.
func setup(ctx context.Context, opts ...clustering.Option) (*config.Config, database.EncodingStore, *clustering.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	engine, err := clustering.New(store, policyFromConfig(cfg.Policy), opts...)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("creating engine: %w", err)
	}
	return cfg, store, engine, nil
}
