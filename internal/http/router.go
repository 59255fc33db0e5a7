package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/plutolabs/pluto-backend/internal/http/handlers"
	httpMW "github.com/plutolabs/pluto-backend/internal/http/middleware"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	QueryHandler  *httpH.QueryHandler
	IngestHandler *httpH.IngestHandler
	ScopeHandler  *httpH.ScopeHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS())
	r.Use(httpMW.RequestLogger(cfg.Log))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api/v1")
	{
		// Query
		if cfg.QueryHandler != nil {
			api.POST("/query", cfg.QueryHandler.Query)
		}

		// Ingestion
		if cfg.IngestHandler != nil {
			api.POST("/ingest", cfg.IngestHandler.Ingest)
			api.GET("/ingest/tasks/:id", cfg.IngestHandler.GetTask)
		}

		// Scopes
		if cfg.ScopeHandler != nil {
			api.GET("/scopes/:id/catalog", cfg.ScopeHandler.GetCatalog)
			api.DELETE("/scopes/:id", cfg.ScopeHandler.DeleteScope)
		}
	}

	return r
}
