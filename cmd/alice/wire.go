package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/alice/internal/belief"
	"github.com/nidhogg/alice/internal/command"
	"github.com/nidhogg/alice/internal/config"
	"github.com/nidhogg/alice/internal/embedding"
	"github.com/nidhogg/alice/internal/gateway"
	"github.com/nidhogg/alice/internal/memory"
	"github.com/nidhogg/alice/internal/provider"
	"github.com/nidhogg/alice/internal/sim"
	"github.com/nidhogg/alice/internal/store"
	"github.com/nidhogg/alice/internal/transcript"
	"github.com/nidhogg/alice/internal/vectorstore"
	"go.uber.org/zap"
)

// stack is an engine plus every backend it was wired to.
type stack struct {
	engine  *sim.Engine
	router  *provider.Router
	history store.History
	gw      *gateway.Gateway
	closers []func() error
	logger  *zap.Logger
}

// Close shuts the engine down first so sinks drain before their backends go.
func (s *stack) Close() error {
	s.engine.Close()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// build wires the engine to every backend the config enables. Optional
// backends that fail to connect are logged and skipped.
func build(ctx context.Context, cfg *config.Config, relay bool, logger *zap.Logger) (*stack, error) {
	simCfg := cfg.Simulation
	if simCfg.RunID == "" {
		simCfg.RunID = uuid.New().String()
	}
	runID := simCfg.RunID
	st := &stack{logger: logger}

	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		p, err := provider.New(ctx, provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
		if pc.Default {
			router.SetDefault(pc.ID)
		}
	}
	if len(router.ListProviders()) == 0 {
		return nil, fmt.Errorf("build: no usable provider configured")
	}
	st.router = router

	deps := sim.Deps{Chat: router, Router: router}

	if db := cfg.Database.Neo4j; db.URI != "" {
		archive, err := memory.NewGraphArchive(db.URI, db.User, db.Password, runID, logger)
		if err == nil {
			err = archive.Ping(ctx)
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, running without graph archive", zap.Error(err))
		} else {
			deps.Archives = append(deps.Archives, archive)
			deps.Mirrors = append(deps.Mirrors, belief.NewGraph(archive.Driver(), runID, logger))
			st.closers = append(st.closers, func() error { return archive.Close(context.Background()) })
		}
	}

	if q := cfg.Database.Qdrant; q.Host != "" && cfg.Embedding.Provider != "" {
		emb, err := embedding.New(embedding.Config{
			Provider:  cfg.Embedding.Provider,
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			APIKey:    cfg.Embedding.APIKey,
			Dimension: cfg.Embedding.Dimension,
		})
		var client *vectorstore.Client
		if err == nil {
			client, err = vectorstore.NewClient(vectorstore.QdrantConfig{Host: q.Host, Port: q.Port})
		}
		if err != nil {
			logger.Warn("vector retrieval unavailable, using keywords", zap.Error(err))
		} else {
			collection := q.Collection
			if collection == "" {
				collection = "alice_memories"
			}
			deps.Retriever = memory.NewVectorRetriever(emb, client, collection, runID, logger)
			st.closers = append(st.closers, client.Close)
		}
	}

	if url := cfg.Database.Redis.URL; url != "" {
		sink, err := transcript.NewRedisSink(ctx, url, logger)
		if err != nil {
			logger.Warn("Redis unavailable, transcript not streamed", zap.Error(err))
		} else {
			deps.Sinks = append(deps.Sinks, sink)
			st.closers = append(st.closers, sink.Close)
		}
	}

	history, err := openHistory(ctx, cfg.Database, logger)
	if err != nil {
		logger.Warn("run history unavailable", zap.Error(err))
	} else if history != nil {
		st.history = history
		deps.Sinks = append(deps.Sinks, history)
		st.closers = append(st.closers, history.Close)
	}

	if relay {
		st.gw = gateway.NewGateway(logger)
		if sc := cfg.Gateway.Slack; sc.Enabled && sc.BotToken != "" {
			st.gw.Register(gateway.NewSlackAdapter(sc.BotToken, sc.AppToken, sc.ChannelID, logger))
		}
		if dc := cfg.Gateway.Discord; dc.Enabled && dc.BotToken != "" {
			st.gw.Register(gateway.NewDiscordAdapter(dc.BotToken, dc.ChannelID, logger))
		}
		if len(st.gw.Adapters()) > 0 {
			deps.Sinks = append(deps.Sinks, gateway.NewRelay(st.gw, logger))
		}
		st.closers = append(st.closers, st.gw.Close)
	}

	st.engine = sim.NewEngine(simCfg, deps, logger)

	if st.history != nil {
		h := st.history
		st.engine.OnFinish(func(ts sim.TurnState) {
			if err := h.FinishRun(context.Background(), runID, ts.TurnCount, ts.Status, string(ts.Reason)); err != nil {
				logger.Warn("record run end failed", zap.Error(err))
			}
		})
	}
	if st.gw != nil {
		commands := command.NewRegistry()
		command.RegisterBuiltins(commands, st.engine)
		st.gw.SetHandler(command.GatewayHandler(commands, st.gw,
			gateway.ObservationHandler(st.engine.InjectObservation, logger), logger))
	}
	return st, nil
}

// openHistory prefers Postgres and falls back to a SQLite file.
func openHistory(ctx context.Context, db config.DatabaseConfig, logger *zap.Logger) (store.History, error) {
	if db.Postgres.DSN != "" {
		pg, err := store.New(ctx, db.Postgres.DSN, logger)
		if err == nil {
			if err = pg.Migrate(ctx); err == nil {
				return pg, nil
			}
			pg.Close()
		}
		if db.SQLite.Path == "" {
			return nil, err
		}
		logger.Warn("PostgreSQL unavailable, using SQLite", zap.Error(err))
	}
	if db.SQLite.Path != "" {
		return store.OpenSQLite(ctx, db.SQLite.Path, logger)
	}
	return nil, nil
}
