package app

import (
	"context"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"github.com/refinelab/textora/internal/config"
	"github.com/refinelab/textora/internal/core"
	db "github.com/refinelab/textora/internal/core/database"
	"github.com/refinelab/textora/internal/core/extract"
	"github.com/refinelab/textora/internal/core/ingest"
	"github.com/refinelab/textora/internal/core/llm"
	"github.com/refinelab/textora/internal/core/objectstore"
	"github.com/refinelab/textora/internal/core/refine"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Manager      *ingest.Manager
	Server       *Server

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("database initialized and ready")

	// The archive store is optional: without AWS credentials uploads are
	// spooled locally only.
	var objClient core.ObjectClient
	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" {
		objClient, err = objectstore.NewS3Client(appCtx, cfg)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("AWS credentials not set, upload archiving disabled")
	}

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}

	backends, geminiEmb, err := buildBackends(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	refiner := refine.New(llmProvider, cfg.FallbackLang)
	registry := extract.NewRegistry(cfg.OCRLanguages)
	pipeline := ingest.NewPipeline(dbClient, registry, refiner, backends, cfg.ChunkSize, cfg.ChunkOverlap)
	manager := ingest.NewManager(pipeline)

	server := NewServer(cfg, dbClient, objClient, manager, backends, llmProvider)

	app := &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Manager:      manager,
		Server:       server,
	}
	app.closers = append(app.closers, dbClient.Close, llmProvider.Close)
	if geminiEmb != nil {
		app.closers = append(app.closers, geminiEmb.Close)
	}
	return app, nil
}

func buildBackends(ctx context.Context, cfg *config.Config) (map[string]core.EmbeddingBackend, *llm.GeminiEmbedder, error) {
	backends := make(map[string]core.EmbeddingBackend)
	var geminiEmb *llm.GeminiEmbedder

	for key, entry := range cfg.EmbedModels() {
		switch entry.Backend {
		case "gemini":
			emb, err := llm.NewGeminiEmbedder(ctx, key, cfg.AIAPIKey, entry.Model, entry.Dimension)
			if err != nil {
				return nil, nil, fmt.Errorf("init embedder %s: %w", key, err)
			}
			backends[key] = emb
			geminiEmb = emb
		case "local":
			backends[key] = llm.NewLocalEmbedder(key, entry.Endpoint, entry.Model, entry.Dimension)
		default:
			return nil, nil, fmt.Errorf("unknown embedding backend %q for model %s", entry.Backend, key)
		}
	}
	return backends, geminiEmb, nil
}

func (a *App) Close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			log.Error().Err(err).Msg("close component")
		}
	}
}
