package app

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/plutolabs/pluto-backend/internal/catalog"
	"github.com/plutolabs/pluto-backend/internal/graph"
	"github.com/plutolabs/pluto-backend/internal/history"
	httpx "github.com/plutolabs/pluto-backend/internal/http"
	httpH "github.com/plutolabs/pluto-backend/internal/http/handlers"
	"github.com/plutolabs/pluto-backend/internal/ingest"
	"github.com/plutolabs/pluto-backend/internal/observability"
	"github.com/plutolabs/pluto-backend/internal/platform/clip"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/ollama"
	"github.com/plutolabs/pluto-backend/internal/platform/qdrant"
	"github.com/plutolabs/pluto-backend/internal/platform/vectorstore"
)

type App struct {
	Log    *logger.Logger
	Cfg    Config
	Router *gin.Engine

	Store vectorstore.Store
	redis *redis.Client
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig()

	if observability.Enabled() {
		observability.Init(log)
	}

	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("qdrant config: %w", err)
	}
	store, err := qdrant.NewStore(log, qdrantCfg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	embedder, err := clip.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init embedding client: %w", err)
	}

	llm, err := ollama.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	hist, err := history.NewStore(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init chat history: %w", err)
	}

	rdb, err := newRedisClient(log)
	var tasks *ingest.TaskStore
	if err != nil {
		log.Warn("redis unavailable, background ingestion disabled", "error", err)
	} else {
		tasks = ingest.NewTaskStore(log, rdb)
	}

	producers := ingest.NewRegistry(
		ingest.NewTextProducer(),
		ingest.NewImageProducer(log, llm),
		ingest.NewAudioProducer(log, nil),
	)
	ingestPipeline := ingest.NewPipeline(log, store, embedder, llm, producers)

	catalogs := catalog.NewService(log, store)
	queryPipeline := graph.NewPipeline(
		log,
		catalogs,
		graph.NewAnalyzer(log, llm),
		graph.NewGate(log, llm),
		graph.NewRetriever(log, store, embedder, graph.RetrieverConfig{
			SimilarityThreshold: cfg.SimilarityThreshold,
			MMRLambda:           cfg.MMRLambda,
		}),
		graph.NewGrader(log, llm, graph.GraderConfig{
			PassThreshold: cfg.GraderPassThreshold,
			AvgThreshold:  cfg.GraderAvgThreshold,
		}),
		graph.NewConflictDetector(log, llm),
		graph.NewGenerator(log, llm),
		graph.PipelineConfig{
			DefaultTopK:       cfg.DefaultTopK,
			MaxTopK:           cfg.MaxTopK,
			AvgScoreThreshold: cfg.GraderAvgThreshold,
			RequestTimeout:    cfg.QueryTimeout,
		},
	)

	router := httpx.NewRouter(httpx.RouterConfig{
		Log:           log,
		QueryHandler:  httpH.NewQueryHandler(log, queryPipeline, hist),
		IngestHandler: httpH.NewIngestHandler(log, ingestPipeline, tasks),
		ScopeHandler:  httpH.NewScopeHandler(log, catalogs, store, hist),
		HealthHandler: httpH.NewHealthHandler(),
	})

	return &App{
		Log:    log,
		Cfg:    cfg,
		Router: router,
		Store:  store,
		redis:  rdb,
	}, nil
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("server listening", "port", a.Cfg.Port)
	return a.Router.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
