package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plutolabs/pluto-backend/internal/http/response"
	"github.com/plutolabs/pluto-backend/internal/ingest"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
)

const backgroundIngestTimeout = 10 * time.Minute

// IngestService is the pipeline surface the handler needs.
type IngestService interface {
	Ingest(ctx context.Context, file ingest.File, scopeID string, opts ingest.Options) (*ingest.Result, error)
}

type IngestHandler struct {
	log      *logger.Logger
	pipeline IngestService
	tasks    *ingest.TaskStore
}

func NewIngestHandler(log *logger.Logger, pipeline IngestService, tasks *ingest.TaskStore) *IngestHandler {
	return &IngestHandler{
		log:      log.With("handler", "IngestHandler"),
		pipeline: pipeline,
		tasks:    tasks,
	}
}

// POST /api/v1/ingest?background=1
func (h *IngestHandler) Ingest(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	f, err := header.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}

	scopeID := strings.TrimSpace(c.PostForm("scope_id"))
	if scopeID == "" {
		scopeID = defaultScopeID
	}
	file := ingest.File{Name: header.Filename, Data: data}
	opts := ingest.Options{IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key"))}

	if background := c.Query("background"); background == "1" || background == "true" {
		h.ingestBackground(c, file, scopeID, opts)
		return
	}

	result, err := h.pipeline.Ingest(c.Request.Context(), file, scopeID, opts)
	if err != nil {
		respondIngestError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (h *IngestHandler) ingestBackground(c *gin.Context, file ingest.File, scopeID string, opts ingest.Options) {
	if h.tasks == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "background_ingest_unavailable",
			errors.New("task store is not configured"))
		return
	}
	task, err := h.tasks.Create(c.Request.Context(), scopeID, file.Name)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "task_create_failed", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundIngestTimeout)
		defer cancel()
		if err := h.tasks.MarkRunning(ctx, task); err != nil {
			h.log.Warn("task status update failed", "task_id", task.ID, "error", err)
		}
		result, err := h.pipeline.Ingest(ctx, file, scopeID, opts)
		if err != nil {
			h.log.Error("background ingestion failed", "task_id", task.ID, "file", file.Name, "error", err)
			if err := h.tasks.MarkFailed(ctx, task, err); err != nil {
				h.log.Warn("task status update failed", "task_id", task.ID, "error", err)
			}
			return
		}
		if err := h.tasks.MarkDone(ctx, task, result); err != nil {
			h.log.Warn("task status update failed", "task_id", task.ID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"task": task})
}

// GET /api/v1/ingest/tasks/:id
func (h *IngestHandler) GetTask(c *gin.Context) {
	if h.tasks == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "background_ingest_unavailable",
			errors.New("task store is not configured"))
		return
	}
	task, err := h.tasks.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ingest.ErrTaskNotFound) {
		response.RespondError(c, http.StatusNotFound, "task_not_found", err)
		return
	}
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "task_lookup_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"task": task})
}

func respondIngestError(c *gin.Context, err error) {
	var ie *ingest.Error
	if errors.As(err, &ie) {
		response.RespondError(c, ie.HTTPStatusCode(), string(ie.Code), ie)
		return
	}
	response.RespondError(c, http.StatusInternalServerError, "ingest_failed", err)
}
