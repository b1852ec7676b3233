/*
Package cli implements the command-line interface for session-memory-mcp.

Each command is implemented as a separate function that returns a *cobra.Command,
allowing for clean separation and easy testing. Commands that touch the memory
store build the full component graph once through openApp.
*/
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/khanglvm/session-memory-mcp/internal/config"
	"github.com/khanglvm/session-memory-mcp/internal/embedding"
	"github.com/khanglvm/session-memory-mcp/internal/enrichment"
	"github.com/khanglvm/session-memory-mcp/internal/mcp"
	"github.com/khanglvm/session-memory-mcp/internal/metrics"
	"github.com/khanglvm/session-memory-mcp/internal/pattern"
	"github.com/khanglvm/session-memory-mcp/internal/retrieval"
	"github.com/khanglvm/session-memory-mcp/internal/session"
	"github.com/khanglvm/session-memory-mcp/internal/storage"
	"github.com/khanglvm/session-memory-mcp/internal/textindex"
	"github.com/khanglvm/session-memory-mcp/internal/vectorindex"
	"github.com/khanglvm/session-memory-mcp/internal/version"
)

// app holds every long-lived component, wired once per process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Storage
	embedder embedding.Embedder
	index    vectorindex.Index
	keywords *textindex.Indexer
	metrics  *metrics.Metrics
	pipeline *enrichment.Pipeline
	coord    *retrieval.Coordinator
	sessions *session.Service
	patterns *pattern.Service

	closers []func()
}

// appOptions selects the optional startup work.
type appOptions struct {
	// warm loads stored vectors into the index and rebuilds the keyword index.
	warm bool
}

// openApp builds the component graph described by cfg.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openEmbedder(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openIndexes(); err != nil {
		a.close()
		return nil, err
	}

	a.pipeline = enrichment.New(enrichment.Deps{
		Store:    a.store,
		Embedder: a.embedder,
		Index:    a.index,
		Keywords: a.keywords,
		Metrics:  a.metrics,
		Logger:   logger,
	}, enrichment.Config{
		QueueSize:  cfg.Settings.QueueSize,
		Workers:    cfg.Settings.Workers,
		JobTimeout: cfg.Settings.JobTimeout(),
	})
	a.closers = append(a.closers, a.pipeline.Stop)

	a.coord = retrieval.New(retrieval.Deps{
		Store:    a.store,
		Embedder: a.embedder,
		Index:    a.index,
		Keywords: a.keywords,
		Metrics:  a.metrics,
		Logger:   logger,
	}, retrieval.Config{
		ExactThreshold: cfg.Index.ExactThreshold,
		Timeout:        cfg.Settings.QueryTimeout(),
	})
	a.sessions = session.New(session.Deps{Store: a.store, Enricher: a.pipeline, Logger: logger})
	a.patterns = pattern.New(pattern.Deps{Store: a.store, Enricher: a.pipeline, Searcher: a.coord, Logger: logger})

	if opts.warm {
		a.warm(ctx)
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	var store *storage.SQLStore
	switch a.cfg.Storage.Driver {
	case config.DriverPostgres:
		store = storage.NewPostgres(a.cfg.Storage.DSN, a.logger)
	default:
		store = storage.NewSQLite(a.cfg.Storage.Path, a.logger)
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() { store.Close() })
	return nil
}

func (a *app) openEmbedder() error {
	ec := a.cfg.Embedding

	var base embedding.Embedder
	switch ec.Provider {
	case config.ProviderOpenAI:
		client, err := embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		})
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		base = client
		if ec.RequestsPerSecond > 0 {
			base = embedding.NewLimited(client, ec.RequestsPerSecond, ec.Burst)
		}
	default:
		base = embedding.NewHash(ec.Dimensions)
	}

	if ec.CacheSize > 0 {
		cached, err := embedding.NewCached(base, int64(ec.CacheSize))
		if err != nil {
			return fmt.Errorf("failed to create embedding cache: %w", err)
		}
		a.closers = append(a.closers, cached.Close)
		base = cached
	}
	a.embedder = base
	return nil
}

func (a *app) openIndexes() error {
	ic := a.cfg.Index
	switch ic.Backend {
	case config.BackendFlat:
		a.index = vectorindex.NewFlat()
	case config.BackendChromem:
		a.index = vectorindex.NewChromem()
	case config.BackendPGVector:
		sqlStore, ok := a.store.(*storage.SQLStore)
		if !ok || a.store.Driver() != config.DriverPostgres {
			return fmt.Errorf("pgvector backend needs the postgres store")
		}
		a.index = vectorindex.NewPGVector(sqlStore.DB(), a.embedder.Model())
	default:
		a.index = vectorindex.NewIVF(vectorindex.IVFConfig{
			NList:          ic.NList,
			NProbe:         ic.NProbe,
			TrainThreshold: ic.TrainThreshold,
		})
	}

	var err error
	if ic.KeywordPath != "" {
		a.keywords, err = textindex.NewIndexerWithPath(ic.KeywordPath)
	} else {
		a.keywords, err = textindex.NewIndexer()
	}
	if err != nil {
		return fmt.Errorf("failed to open keyword index: %w", err)
	}
	a.closers = append(a.closers, func() { a.keywords.Close() })
	return nil
}

// warm fills the derived indexes from storage. Failures leave the indexes
// partially loaded; retrieval still works and backfill repairs the rest.
func (a *app) warm(ctx context.Context) {
	// pgvector queries the embeddings table directly.
	if a.cfg.Index.Backend != config.BackendPGVector {
		if _, err := vectorindex.Rebuild(ctx, a.index, a.store, a.embedder.Model(), a.logger); err != nil {
			a.logger.Warn("vector index rebuild failed", "error", err)
		}
	}
	if a.cfg.Index.KeywordPath == "" {
		if _, err := a.pipeline.ReindexKeywords(ctx, a.keywords); err != nil {
			a.logger.Warn("keyword index rebuild failed", "error", err)
		}
	}
}

// server builds the MCP server over the app's services.
func (a *app) server() *mcp.Server {
	return mcp.NewServer(mcp.Deps{
		Sessions:  a.sessions,
		Patterns:  a.patterns,
		Retrieval: a.coord,
		Store:     a.store,
		Queue:     a.pipeline,
		Index:     a.index,
		Embedder:  a.embedder,
		Metrics:   a.metrics,
		Logger:    a.logger,
		Version:   version.Version,
	})
}

// close releases components in reverse order of creation.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newLogger returns a logger writing to w. stdout stays reserved for MCP.
func newLogger(settings *config.Settings, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(settings.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(settings.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig reads the config file (or defaults), then .env and the
// environment, and validates the result.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openFromFlags loads the configuration and builds the app with a stderr logger.
func openFromFlags(ctx context.Context, configPath string, opts appOptions) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, newLogger(cfg.Settings, os.Stderr), opts)
}
