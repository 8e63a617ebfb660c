package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fault-matcher/arbitrator"
	"fault-matcher/catalog"
	"fault-matcher/config"
	"fault-matcher/database"
	"fault-matcher/hybrid"
	"fault-matcher/llmclient"
	"fault-matcher/match"
	"fault-matcher/retrieval"
	"fault-matcher/web"
	"fault-matcher/web/handlers"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	// Initialize logger with default level to load config
	tempLogger, err := config.InitLogger("info")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Load(tempLogger)

	// Re-initialize logger with configured level
	logger, err := config.InitLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Failed to re-initialize logger with configured level: %v\n", err)
		os.Exit(1)
	}
	defer config.Cleanup()

	records, err := catalog.Load(cfg.DataFile)
	if err != nil {
		logger.Fatal("Failed to load fault catalog", zap.String("path", cfg.DataFile), zap.Error(err))
	}
	logger.Info("Loaded fault catalog", zap.String("path", cfg.DataFile), zap.Int("records", len(records)))

	models, err := llmclient.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize model client", zap.Error(err))
	}
	defer models.Close()

	vector, lexical, closeLocal, err := buildLocalChannels(ctx, cfg, records, models, logger)
	if err != nil {
		logger.Fatal("Failed to build local retrieval channels", zap.String("backend", cfg.LocalBackend), zap.Error(err))
	}
	defer closeLocal()

	var reranker retrieval.Reranker
	if cfg.RerankHost != "" {
		reranker = models
	}

	var arb match.Arbitrator
	arbCfg := arbitrator.Config{
		BaseURL:       cfg.ArbitratorBaseURL,
		APIKey:        cfg.ArbitratorAPIKey,
		Model:         cfg.ArbitratorModel,
		Timeout:       cfg.ArbitratorTimeout,
		MaxCandidates: cfg.ArbitratorMaxCandidates,
		MaxTextRunes:  cfg.ArbitratorMaxText,
	}
	if arbCfg.Configured() {
		arb = arbitrator.NewClient(arbCfg, arbitrator.NewPool(arbitrator.OpenAIFactory), logger)
	} else {
		logger.Info("Arbitrator not configured; gray-zone queries resolve to REJECT")
	}

	router := match.NewRouter(match.Thresholds{Pass: cfg.PassThreshold, GrayLow: cfg.GrayLowThreshold}, arb, logger)
	orchestrator := retrieval.NewOrchestrator(vector, lexical, reranker, router, cfg.Weights, logger)

	var hybridMatcher handlers.HybridMatcher
	if cfg.HybridEnabled() {
		if m, err := buildHybrid(ctx, cfg, models, router, logger); err != nil {
			logger.Warn("Hybrid backend unavailable; serving local path only", zap.Error(err))
		} else {
			hybridMatcher = m
		}
	}

	matches := handlers.NewMatchHandler(orchestrator, hybridMatcher, logger)
	webServer := web.NewServer(matches, logger, cfg)

	// Create context that listens for interrupt signals
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	port := fmt.Sprintf(":%d", cfg.WebPort)
	logger.Info("Starting fault matcher web server", zap.String("port", port))
	if err := webServer.Start(ctx, port); err != nil {
		logger.Error("Web server error", zap.Error(err))
		os.Exit(1)
	}
}

// buildLocalChannels returns the vector and lexical channels for the
// configured local backend, plus a function releasing their resources.
func buildLocalChannels(ctx context.Context, cfg *config.Config, records []catalog.Record, embedder retrieval.Embedder, logger *zap.Logger) (retrieval.VectorIndex, retrieval.LexicalIndex, func(), error) {
	switch cfg.LocalBackend {
	case "postgres":
		store, err := database.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := store.EnsureSchema(ctx, embedder.Dim()); err != nil {
			store.Close()
			return nil, nil, nil, err
		}
		if cfg.CatalogSyncOnStart {
			if err := retrieval.SyncCatalog(ctx, store, records, embedder, logger); err != nil {
				store.Close()
				return nil, nil, nil, err
			}
		}
		closeFn := func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close database", zap.Error(err))
			}
		}
		return retrieval.NewPostgresVectorIndex(store, embedder), retrieval.NewPostgresLexicalIndex(store), closeFn, nil

	case "memory", "":
		vector, err := retrieval.NewChromemIndex(ctx, records, embedder, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		lexical, err := retrieval.NewBleveIndex(records, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := lexical.Close(); err != nil {
				logger.Warn("Failed to close lexical index", zap.Error(err))
			}
		}
		return vector, lexical, closeFn, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown LOCAL_BACKEND %q", cfg.LocalBackend)
	}
}

func buildHybrid(ctx context.Context, cfg *config.Config, models *llmclient.Client, router *match.Router, logger *zap.Logger) (*hybrid.Matcher, error) {
	backend, err := hybrid.NewOpenSearchBackend(cfg)
	if err != nil {
		return nil, err
	}

	// Hash vectors would not live in the index's embedding space.
	semantic := cfg.EmbeddingHost != ""
	compat, err := hybrid.DetectCompat(ctx, backend, semantic)
	if err != nil {
		return nil, err
	}

	var embedder hybrid.Embedder
	if semantic {
		embedder = models
	}
	status := compat.Snapshot()
	logger.Info("Connected to search backend",
		zap.String("index", cfg.OpenSearchIndex),
		zap.String("version", status.Version),
		zap.String("dialect", string(status.Dialect)),
		zap.Bool("semantic", status.SemanticEnabled))

	return hybrid.NewMatcher(backend, embedder, compat, router, hybrid.Config{
		VectorField:           cfg.OpenSearchVectorField,
		VectorNumCandidates:   cfg.OpenSearchVectorCandidates,
		DefaultSemanticWeight: cfg.DefaultSemanticWeight,
	}, logger), nil
}
