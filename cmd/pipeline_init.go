package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/adamass/diligence-cli/internal/contract"
	"github.com/adamass/diligence-cli/internal/pipeline"
	"github.com/adamass/diligence-cli/internal/store"
	anthropicpkg "github.com/adamass/diligence-cli/pkg/anthropic"
)

// pipelineEnv holds the initialized store and pipeline shared by the
// run/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "adamass.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, contracts and completion client, and
// builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	contracts, err := contract.Load()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	runner := pipeline.NewStageRunner(anthropicClient, contracts, cfg)

	return &pipelineEnv{
		Store:    st,
		Pipeline: pipeline.New(cfg, st, runner),
	}, nil
}
