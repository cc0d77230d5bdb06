package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"github.com/travel-sense/server/internal/agent/graph"
	"github.com/travel-sense/server/internal/agent/graph/nodes"
	"github.com/travel-sense/server/internal/agent/graph/resolver"
	"github.com/travel-sense/server/internal/agent/graph/retrieval"
	"github.com/travel-sense/server/internal/agent/graph/tools"
	"github.com/travel-sense/server/internal/agent/model"
	"github.com/travel-sense/server/internal/agent/repo"
	"github.com/travel-sense/server/internal/api"
	"github.com/travel-sense/server/internal/catalog"
	"github.com/travel-sense/server/internal/core"
	logx "github.com/travel-sense/server/pkg/logger"
	pkgmongo "github.com/travel-sense/server/pkg/mongo"
	pkgollama "github.com/travel-sense/server/pkg/ollama"
	pkgpostgres "github.com/travel-sense/server/pkg/postgres"
	pkgredis "github.com/travel-sense/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the server,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis    pkgredis.Config
	Postgres pkgpostgres.Config
	Mongo    pkgmongo.Config
	Ollama   pkgollama.Config

	// Storage backends
	CatalogStore string `envconfig:"CATALOG_STORE" default:"file"`
	CatalogDir   string `envconfig:"CATALOG_DIR" default:"data"`
	ChatStore    string `envconfig:"CHAT_STORE" default:"redis"`

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`
	Whisper api.WhisperConfig

	// Agent configs
	Decision     model.DecisionModelConfig
	Response     model.ResponseModelConfig
	Resolver     model.ResolverConfig
	Embedding    model.EmbeddingConfig
	Prompt       model.PromptConfig
	Conversation model.ConversationConfig
	Tools        tools.Options

	HTTP api.Config
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to process environment config: %v\n", err)
		os.Exit(1)
	}

	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(cfg.Environment),
		Level:       cfg.LogLevel,
		Service:     "travel-sense",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal().Err(err).Msg("Server stopped with error")
	}
}

func run(ctx context.Context, cfg AppConfig) error {
	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		return fmt.Errorf("initialise redis client: %w", err)
	}
	defer rdb.Close()
	logx.Info().Msg("Connected to Redis successfully")

	cat, closeCatalog, err := newCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCatalog()
	chats, closeChats, err := newChatStore(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer closeChats()

	models, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		DecisionConfig: &cfg.Decision,
		RespConfig:     &cfg.Response,
	})
	if err != nil {
		return err
	}

	embedder, classifier, err := newResolution(cfg, models)
	if err != nil {
		return err
	}

	history := repo.NewRedisConversationRepository(rdb, cfg.Conversation.TTL, cfg.Conversation.MaxStored)

	registry, err := tools.NewTravelRegistry(cat, cfg.Tools)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	runner, err := graph.BuildResponseGraph(ctx, graph.Config{
		Primary:            models.Response,
		PrimaryModelName:   models.ResponseModelName,
		Formatter:          models.Response,
		FormatterModelName: models.ResponseModelName,
		Classifier:         classifier,
		Embedder:           embedder,
		Registry:           registry,
		Resolution:         cfg.Resolver,
		Response:           cfg.Response,
		Prompt:             cfg.Prompt,
		Conversation:       cfg.Conversation,
		ConversationRepo:   history,
		Locker:             repo.NewRedisTurnLocker(rdb, cfg.Conversation.LockTTL),
	})
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	var transcriber api.Transcriber
	if w := api.NewWhisperTranscriber(cfg.Whisper); w != nil {
		transcriber = w
	} else {
		logx.Warn().Msg("OPENAI_API_KEY not set, /transcribe is disabled")
	}

	srv := api.New(cfg.HTTP, api.Deps{
		Runner:      runner,
		Chats:       chats,
		History:     history,
		Catalog:     cat,
		Transcriber: transcriber,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logx.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func noopClose() {}

// newCatalog builds the catalog and returns the func that releases its backend.
func newCatalog(ctx context.Context, cfg AppConfig) (*catalog.Catalog, func(), error) {
	switch cfg.CatalogStore {
	case "mongo":
		db, err := cfg.Mongo.New(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		logx.Info().Str("database", cfg.Mongo.Database).Msg("Catalog backed by MongoDB")
		closeFn := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := db.Client().Disconnect(dctx); err != nil {
				logx.Warn().Err(err).Msg("Failed to disconnect MongoDB")
			}
		}
		return catalog.New(catalog.NewMongoStore(db)), closeFn, nil
	case "memory":
		return catalog.New(catalog.NewMemoryStore(nil)), noopClose, nil
	case "file", "":
		logx.Info().Str("dir", cfg.CatalogDir).Msg("Catalog backed by JSON files")
		return catalog.New(catalog.NewFileStore(cfg.CatalogDir)), noopClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown CATALOG_STORE %q", cfg.CatalogStore)
	}
}

// newChatStore builds the chat store. The redis client is owned by the caller,
// so only the Postgres pool is closed by the returned func.
func newChatStore(ctx context.Context, cfg AppConfig, rdb *redis.Client) (model.ChatStore, func(), error) {
	switch cfg.ChatStore {
	case "postgres":
		pool, err := cfg.Postgres.New(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := repo.NewPostgresChatStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logx.Info().Msg("Chat store backed by Postgres")
		return store, pool.Close, nil
	case "redis", "":
		return repo.NewRedisChatStore(rdb), noopClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown CHAT_STORE %q", cfg.ChatStore)
	}
}

// newResolution picks the embedding and classification backends.
func newResolution(cfg AppConfig, models *nodes.ChatModels) (retrieval.Embedder, resolver.Classifier, error) {
	var (
		embedder   retrieval.Embedder
		classifier resolver.Classifier
	)
	needOllama := cfg.Embedding.Provider == "ollama" || cfg.Decision.Provider == "ollama"
	if !needOllama {
		return retrieval.NewGeminiEmbedder(models.Client, cfg.Embedding.Model),
			resolver.NewChatModelClassifier(models.Decision), nil
	}

	oc, err := cfg.Ollama.New()
	if err != nil {
		return nil, nil, fmt.Errorf("initialise ollama client: %w", err)
	}
	switch cfg.Embedding.Provider {
	case "ollama":
		embedder = retrieval.NewOllamaEmbedder(oc, cfg.Embedding.Model)
	default:
		embedder = retrieval.NewGeminiEmbedder(models.Client, cfg.Embedding.Model)
	}
	switch cfg.Decision.Provider {
	case "ollama":
		classifier = resolver.NewOllamaClassifier(oc, cfg.Decision.Model, cfg.Decision.Temperature, cfg.Decision.MaxTokens)
	default:
		classifier = resolver.NewChatModelClassifier(models.Decision)
	}
	return embedder, classifier, nil
}
