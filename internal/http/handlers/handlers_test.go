package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/plutolabs/pluto-backend/internal/catalog"
	"github.com/plutolabs/pluto-backend/internal/graph"
	"github.com/plutolabs/pluto-backend/internal/history"
	"github.com/plutolabs/pluto-backend/internal/ingest"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/vectorstore"
	"github.com/plutolabs/pluto-backend/internal/types"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func newTestHistory(t *testing.T) *history.Store {
	t.Helper()
	t.Setenv("CHAT_HISTORY_DIR", t.TempDir())
	store, err := history.NewStore(newTestLogger(t))
	if err != nil {
		t.Fatalf("history.NewStore: %v", err)
	}
	return store
}

type fakeQueryService struct {
	lastReq graph.Request
	result  *types.QueryResult
	err     error
}

func (f *fakeQueryService) Run(_ context.Context, req graph.Request) (*types.QueryResult, error) {
	f.lastReq = req
	return f.result, f.err
}

type fakeIngestService struct {
	lastScope string
	lastFile  ingest.File
	result    *ingest.Result
	err       error
}

func (f *fakeIngestService) Ingest(_ context.Context, file ingest.File, scopeID string, _ ingest.Options) (*ingest.Result, error) {
	f.lastFile = file
	f.lastScope = scopeID
	return f.result, f.err
}

type fakeCatalogService struct {
	catalog *catalog.Catalog
	err     error
}

func (f *fakeCatalogService) Build(_ context.Context, _ string) (*catalog.Catalog, error) {
	return f.catalog, f.err
}

type fakeDeleteStore struct {
	vectorstore.Store
	deletedScope string
	deleteErr    error
}

func (f *fakeDeleteStore) DeleteByScope(_ context.Context, scopeID string) error {
	f.deletedScope = scopeID
	return f.deleteErr
}

func performJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func queryRouter(t *testing.T, svc QueryService, hist *history.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewQueryHandler(newTestLogger(t), svc, hist)
	r.POST("/api/v1/query", h.Query)
	return r
}

func TestQuerySuccessRespondsAndRecordsHistory(t *testing.T) {
	hist := newTestHistory(t)
	svc := &fakeQueryService{result: &types.QueryResult{Answer: &types.Answer{
		Text:         "Plants use light. [bio.txt]",
		Citations:    []types.Citation{{File: "bio.txt", Modality: types.ModalityText, Score: 0.9}},
		UsedChunkIDs: []string{"a"},
		IsGrounded:   true,
		Confidence:   0.9,
	}}}
	r := queryRouter(t, svc, hist)

	rec := performJSON(t, r, http.MethodPost, "/api/v1/query",
		`{"query":"What is photosynthesis?","scope_id":"s1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "success" {
		t.Fatalf("status field want=success got=%v", body["status"])
	}
	if svc.lastReq.ScopeID != "s1" {
		t.Fatalf("scope want=s1 got=%q", svc.lastReq.ScopeID)
	}
	turns := hist.RecentTurns("s1", 10)
	if len(turns) != 1 || turns[0].Response != "Plants use light. [bio.txt]" {
		t.Fatalf("history turn not recorded: %+v", turns)
	}
	if turns[0].Confidence != 0.9 {
		t.Fatalf("confidence want=0.9 got=%v", turns[0].Confidence)
	}
}

func TestQueryRefusalIsOKWithRefusedStatus(t *testing.T) {
	hist := newTestHistory(t)
	svc := &fakeQueryService{result: &types.QueryResult{Refusal: &types.Refusal{
		Reason:  types.RefusalEmptyKnowledgeBase,
		Message: "No documents are uploaded yet. Please upload documents before asking questions.",
	}}}
	r := queryRouter(t, svc, hist)

	rec := performJSON(t, r, http.MethodPost, "/api/v1/query", `{"query":"anything"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("refusals are not errors, status want=200 got=%d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "refused" {
		t.Fatalf("status field want=refused got=%v", body["status"])
	}
	refusal, _ := body["refusal"].(map[string]any)
	if refusal["reason"] != "empty_knowledge_base" {
		t.Fatalf("reason want=empty_knowledge_base got=%v", refusal["reason"])
	}
	turns := hist.RecentTurns("default", 10)
	if len(turns) != 1 {
		t.Fatalf("refused exchange should still be recorded, got %d turns", len(turns))
	}
}

func TestQueryDefaultsScope(t *testing.T) {
	svc := &fakeQueryService{result: &types.QueryResult{Refusal: &types.Refusal{
		Reason: types.RefusalEmptyKnowledgeBase, Message: "empty",
	}}}
	r := queryRouter(t, svc, newTestHistory(t))

	performJSON(t, r, http.MethodPost, "/api/v1/query", `{"query":"hello there"}`)
	if svc.lastReq.ScopeID != "default" {
		t.Fatalf("scope want=default got=%q", svc.lastReq.ScopeID)
	}
}

func TestQueryPrefersClientConversation(t *testing.T) {
	hist := newTestHistory(t)
	if err := hist.AppendTurn("s1", history.Turn{Query: "old question", Response: "old answer"}); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	svc := &fakeQueryService{result: &types.QueryResult{Refusal: &types.Refusal{
		Reason: types.RefusalNoRetrievedDocuments, Message: "none",
	}}}
	r := queryRouter(t, svc, hist)

	performJSON(t, r, http.MethodPost, "/api/v1/query",
		`{"query":"follow up","scope_id":"s1","conversation":[{"query":"client q","response":"client a"}]}`)
	if len(svc.lastReq.Conversation) != 1 {
		t.Fatalf("conversation want=1 turn got=%v", svc.lastReq.Conversation)
	}
	if svc.lastReq.Conversation[0].Query != "client q" || svc.lastReq.Conversation[0].Response != "client a" {
		t.Fatalf("client conversation should win over stored history, got %+v", svc.lastReq.Conversation[0])
	}
}

func TestQueryFallsBackToStoredHistory(t *testing.T) {
	hist := newTestHistory(t)
	if err := hist.AppendTurn("s1", history.Turn{Query: "old question", Response: "old answer"}); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	svc := &fakeQueryService{result: &types.QueryResult{Refusal: &types.Refusal{
		Reason: types.RefusalNoRetrievedDocuments, Message: "none",
	}}}
	r := queryRouter(t, svc, hist)

	performJSON(t, r, http.MethodPost, "/api/v1/query", `{"query":"follow up","scope_id":"s1"}`)
	if len(svc.lastReq.Conversation) != 1 || svc.lastReq.Conversation[0].Query != "old question" {
		t.Fatalf("stored history should back the conversation, got %+v", svc.lastReq.Conversation)
	}
}

func TestQueryRejectsBlankAndUnknownModality(t *testing.T) {
	svc := &fakeQueryService{}
	r := queryRouter(t, svc, newTestHistory(t))

	rec := performJSON(t, r, http.MethodPost, "/api/v1/query", `{"query":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank query status want=400 got=%d", rec.Code)
	}

	rec = performJSON(t, r, http.MethodPost, "/api/v1/query",
		`{"query":"hello","modalities":["video"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown modality status want=400 got=%d", rec.Code)
	}
	body := decodeBody(t, rec)
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != "invalid_modality" {
		t.Fatalf("error code want=invalid_modality got=%v", errObj["code"])
	}
}

func TestQueryPipelineErrorIs500(t *testing.T) {
	svc := &fakeQueryService{err: errors.New("vector store unreachable")}
	r := queryRouter(t, svc, newTestHistory(t))

	rec := performJSON(t, r, http.MethodPost, "/api/v1/query", `{"query":"hello there"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status want=500 got=%d", rec.Code)
	}
}

func multipartBody(t *testing.T, field, filename string, data []byte, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range values {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, w.FormDataContentType()
}

func ingestRouter(t *testing.T, svc IngestService, tasks *ingest.TaskStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewIngestHandler(newTestLogger(t), svc, tasks)
	r.POST("/api/v1/ingest", h.Ingest)
	r.GET("/api/v1/ingest/tasks/:id", h.GetTask)
	return r
}

func TestIngestSyncSuccess(t *testing.T) {
	svc := &fakeIngestService{result: &ingest.Result{
		Status:        "done",
		ChunksIndexed: 3,
		Topic:         "Cell Biology",
	}}
	r := ingestRouter(t, svc, nil)

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("mitochondria"), map[string]string{"scope_id": "s1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastScope != "s1" || svc.lastFile.Name != "notes.txt" {
		t.Fatalf("pipeline input want=(s1, notes.txt) got=(%s, %s)", svc.lastScope, svc.lastFile.Name)
	}
	out := decodeBody(t, rec)
	if out["chunks_indexed"] != float64(3) {
		t.Fatalf("chunks_indexed want=3 got=%v", out["chunks_indexed"])
	}
}

func TestIngestMissingFileIs400(t *testing.T) {
	r := ingestRouter(t, &fakeIngestService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status want=400 got=%d", rec.Code)
	}
}

func TestIngestMapsPipelineErrorCodes(t *testing.T) {
	svc := &fakeIngestService{err: &ingest.Error{
		Code:    ingest.ErrorUnsupportedType,
		Message: "no chunk producer registered for \".exe\"",
	}}
	r := ingestRouter(t, svc, nil)

	body, contentType := multipartBody(t, "file", "virus.exe", []byte("MZ"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status want=400 got=%d", rec.Code)
	}
	out := decodeBody(t, rec)
	errObj, _ := out["error"].(map[string]any)
	if errObj["code"] != "unsupported_type" {
		t.Fatalf("error code want=unsupported_type got=%v", errObj["code"])
	}
}

func TestIngestBackgroundWithoutTaskStoreIs503(t *testing.T) {
	r := ingestRouter(t, &fakeIngestService{}, nil)

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("text"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest?background=1", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status want=503 got=%d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ingest/tasks/abc", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("task lookup status want=503 got=%d", rec.Code)
	}
}

func scopeRouter(t *testing.T, catalogs CatalogService, store vectorstore.Store, hist *history.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewScopeHandler(newTestLogger(t), catalogs, store, hist)
	r.GET("/api/v1/scopes/:id/catalog", h.GetCatalog)
	r.DELETE("/api/v1/scopes/:id", h.DeleteScope)
	return r
}

func TestGetCatalog(t *testing.T) {
	catalogs := &fakeCatalogService{catalog: &catalog.Catalog{
		Topics:   []string{"cell biology"},
		Concepts: []string{"mitochondria"},
	}}
	r := scopeRouter(t, catalogs, &fakeDeleteStore{}, newTestHistory(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scopes/s1/catalog", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status want=200 got=%d", rec.Code)
	}
	out := decodeBody(t, rec)
	if out["scope_id"] != "s1" {
		t.Fatalf("scope_id want=s1 got=%v", out["scope_id"])
	}
}

func TestGetCatalogFailureIs502(t *testing.T) {
	catalogs := &fakeCatalogService{err: errors.New("scroll unavailable")}
	r := scopeRouter(t, catalogs, &fakeDeleteStore{}, newTestHistory(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scopes/s1/catalog", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status want=502 got=%d", rec.Code)
	}
}

func TestDeleteScopeClearsHistory(t *testing.T) {
	hist := newTestHistory(t)
	if err := hist.AppendTurn("s1", history.Turn{Query: "q", Response: "a"}); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	store := &fakeDeleteStore{}
	r := scopeRouter(t, &fakeCatalogService{catalog: &catalog.Catalog{}}, store, hist)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/scopes/s1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status want=200 got=%d", rec.Code)
	}
	if store.deletedScope != "s1" {
		t.Fatalf("deleted scope want=s1 got=%q", store.deletedScope)
	}
	if turns := hist.RecentTurns("s1", 10); len(turns) != 0 {
		t.Fatalf("history should be cleared, got %d turns", len(turns))
	}
}
