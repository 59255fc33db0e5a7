package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plutolabs/pluto-backend/internal/catalog"
	"github.com/plutolabs/pluto-backend/internal/history"
	"github.com/plutolabs/pluto-backend/internal/http/response"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/vectorstore"
)

// CatalogService is the catalog surface the handler needs.
type CatalogService interface {
	Build(ctx context.Context, scopeID string) (*catalog.Catalog, error)
}

type ScopeHandler struct {
	log      *logger.Logger
	catalogs CatalogService
	store    vectorstore.Store
	history  *history.Store
}

func NewScopeHandler(log *logger.Logger, catalogs CatalogService, store vectorstore.Store, hist *history.Store) *ScopeHandler {
	return &ScopeHandler{
		log:      log.With("handler", "ScopeHandler"),
		catalogs: catalogs,
		store:    store,
		history:  hist,
	}
}

// GET /api/v1/scopes/:id/catalog
func (h *ScopeHandler) GetCatalog(c *gin.Context) {
	scopeID := c.Param("id")
	cat, err := h.catalogs.Build(c.Request.Context(), scopeID)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "catalog_unavailable", err)
		return
	}
	response.RespondOK(c, gin.H{"scope_id": scopeID, "catalog": cat})
}

// DELETE /api/v1/scopes/:id
func (h *ScopeHandler) DeleteScope(c *gin.Context) {
	scopeID := c.Param("id")
	if err := h.store.DeleteByScope(c.Request.Context(), scopeID); err != nil {
		response.RespondError(c, http.StatusBadGateway, "delete_scope_failed", err)
		return
	}
	if err := h.history.Clear(scopeID); err != nil {
		h.log.Warn("chat history clear failed", "scope_id", scopeID, "error", err)
	}
	response.RespondOK(c, gin.H{"scope_id": scopeID, "status": "deleted"})
}
