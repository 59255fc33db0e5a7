package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/plutolabs/pluto-backend/internal/graph"
	"github.com/plutolabs/pluto-backend/internal/history"
	"github.com/plutolabs/pluto-backend/internal/http/response"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/types"
)

const defaultScopeID = "default"

const conversationWindow = 3

// QueryService is the pipeline surface the handler needs.
type QueryService interface {
	Run(ctx context.Context, req graph.Request) (*types.QueryResult, error)
}

type QueryHandler struct {
	log      *logger.Logger
	pipeline QueryService
	history  *history.Store
}

func NewQueryHandler(log *logger.Logger, pipeline QueryService, hist *history.Store) *QueryHandler {
	return &QueryHandler{
		log:      log.With("handler", "QueryHandler"),
		pipeline: pipeline,
		history:  hist,
	}
}

type queryReq struct {
	Query        string       `json:"query" binding:"required"`
	ScopeID      string       `json:"scope_id"`
	TopK         int          `json:"top_k"`
	Modalities   []string     `json:"modalities"`
	Conversation []types.Turn `json:"conversation"`
}

// POST /api/v1/query
func (h *QueryHandler) Query(c *gin.Context) {
	var req queryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		response.RespondError(c, http.StatusBadRequest, "empty_query", fmt.Errorf("query must not be blank"))
		return
	}
	scopeID := strings.TrimSpace(req.ScopeID)
	if scopeID == "" {
		scopeID = defaultScopeID
	}
	modalities, err := parseModalities(req.Modalities)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_modality", err)
		return
	}

	// A conversation supplied by the client wins over stored history.
	conversation := req.Conversation
	if len(conversation) == 0 {
		conversation = h.conversation(scopeID)
	}

	result, err := h.pipeline.Run(c.Request.Context(), graph.Request{
		Query:        req.Query,
		ScopeID:      scopeID,
		TopK:         req.TopK,
		Modalities:   modalities,
		Conversation: conversation,
	})
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "query_failed", err)
		return
	}

	if result.Refused() {
		h.record(scopeID, history.Turn{
			Query:    req.Query,
			Response: result.Refusal.Message,
		})
		response.RespondOK(c, gin.H{"status": "refused", "refusal": result.Refusal})
		return
	}

	answer := result.Answer
	h.record(scopeID, history.Turn{
		Query:        req.Query,
		Response:     answer.Text,
		CitedSources: citedSources(answer.Citations),
		Confidence:   answer.Confidence,
		IsConflicted: answer.IsConflicting,
	})
	response.RespondOK(c, gin.H{"status": "success", "answer": answer})
}

// conversation returns the recent turns in the shape the generator consumes.
func (h *QueryHandler) conversation(scopeID string) []types.Turn {
	stored := h.history.RecentTurns(scopeID, conversationWindow)
	turns := make([]types.Turn, 0, len(stored))
	for _, t := range stored {
		turns = append(turns, types.Turn{Query: t.Query, Response: t.Response})
	}
	return turns
}

func (h *QueryHandler) record(scopeID string, turn history.Turn) {
	if err := h.history.AppendTurn(scopeID, turn); err != nil {
		h.log.Warn("chat history append failed", "scope_id", scopeID, "error", err)
	}
}

func parseModalities(raw []string) ([]types.Modality, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]types.Modality, 0, len(raw))
	for _, r := range raw {
		m, ok := types.ParseModality(strings.ToLower(strings.TrimSpace(r)))
		if !ok {
			return nil, fmt.Errorf("unknown modality %q", r)
		}
		out = append(out, m)
	}
	return out, nil
}

func citedSources(citations []types.Citation) []string {
	sources := make([]string, 0, len(citations))
	for _, cit := range citations {
		if cit.Page > 0 {
			sources = append(sources, fmt.Sprintf("%s, Page %d", cit.File, cit.Page))
			continue
		}
		sources = append(sources, cit.File)
	}
	return sources
}
