package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/person-facts/internal/extract"
	"github.com/sells-group/person-facts/internal/facts"
	"github.com/sells-group/person-facts/internal/resilience"
	"github.com/sells-group/person-facts/internal/store"
	"github.com/sells-group/person-facts/internal/validate"
	"github.com/sells-group/person-facts/pkg/anthropic"
	"github.com/sells-group/person-facts/pkg/ollama"
)

// env bundles the wired application components for a command invocation.
type env struct {
	Store   store.Store
	Service *facts.Service
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv builds the store and pipeline from loaded config and runs
// migrations so commands can assume the schema exists.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	ex := extract.New(anthropic.NewClient(cfg.Anthropic.APIKey), extract.Config{
		Model:       cfg.Anthropic.Model,
		MaxTokens:   cfg.Anthropic.MaxTokens,
		Concurrency: cfg.Anthropic.Concurrency,
		BatchSize:   cfg.Pipeline.BatchSize,
		UserName:    cfg.Pipeline.UserName,
		Retry:       cfg.Retry.ToRetryConfig(),
	})

	local := ollama.NewClient(
		ollama.WithBaseURL(cfg.Ollama.BaseURL),
		ollama.WithModel(cfg.Ollama.Model),
	)
	va := validate.New(local, validate.WithCircuitBreaker(
		resilience.NewCircuitBreaker(cfg.Circuit.ToCircuitConfig()),
	))

	svc := facts.New(st, ex, va, facts.WithBudget(cfg.Pipeline.SampleBudget))
	return &env{Store: st, Service: svc}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.PostgresDSN, &cfg.Store.Pool)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}
