package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plutolabs/pluto-backend/internal/platform/ctxutil"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/vectorstore"
	"github.com/plutolabs/pluto-backend/internal/types"
)

const (
	upsertBatchSize   = 100
	scrollPageSize    = 256
	maxErrorBodyBytes = 1024
)

var pointIDNamespaceUUID = uuid.MustParse("7d4b3f2a-9c61-4ce8-8f4e-2a90d1b5a6c3")

type store struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type scrollResult struct {
	Points         []searchResultItem `json:"points"`
	NextPageOffset json.RawMessage    `json:"next_page_offset"`
}

func NewStore(log *logger.Logger, cfg Config) (vectorstore.Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	s := &store{
		log:     log.With("service", "QdrantStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if err := s.verifyReady(context.Background()); err != nil {
		return nil, err
	}

	log.Info(
		"Qdrant store ready",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
		"spaces", vectorstore.AllSpaces(),
	)
	return s, nil
}

func (s *store) Upsert(ctx context.Context, points []vectorstore.Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}

	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vectors) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %q has no vectors", id), nil)
		}
		vectors := make(map[string][]float32, len(p.Vectors))
		for space, vec := range p.Vectors {
			if !isKnownSpace(space) {
				return opErr(op, OperationErrorValidation, fmt.Sprintf("point %q uses unknown space %q", id, space), nil)
			}
			if len(vec) != s.cfg.VectorDim {
				return &OperationError{
					Code:      OperationErrorSchemaMismatch,
					Operation: op,
					Message: fmt.Sprintf(
						"point %q space %q dimension mismatch: expected=%d got=%d",
						id, space, s.cfg.VectorDim, len(vec),
					),
				}
			}
			vectors[space] = vec
		}
		payload := clonePayload(p.Payload)
		payload[types.PayloadChunkID] = id
		body = append(body, map[string]any{
			"id":      pointID(id),
			"vector":  vectors,
			"payload": payload,
		})
	}

	for offset := 0; offset < len(body); offset += upsertBatchSize {
		end := offset + upsertBatchSize
		if end > len(body) {
			end = len(body)
		}
		req := map[string]any{"points": body[offset:end]}
		err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
		if isMissingCollection(err) {
			if createErr := s.ensureCollection(ctx); createErr != nil {
				return createErr
			}
			err = s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *store) DeleteByScope(ctx context.Context, scopeID string) error {
	const op = "delete_by_scope"
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return opErr(op, OperationErrorValidation, "scope id is required", nil)
	}
	filter, err := buildFilter(map[string]any{types.PayloadScopeID: scopeID})
	if err != nil {
		return err
	}
	req := map[string]any{"filter": filter}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

func (s *store) SearchSingle(ctx context.Context, space string, query []float32, n int, threshold float64, filter map[string]any) ([]vectorstore.Match, error) {
	const op = "search"
	if !isKnownSpace(space) {
		return nil, opErr(op, OperationErrorValidation, fmt.Sprintf("unknown vector space %q", space), nil)
	}
	if len(query) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if len(query) != s.cfg.VectorDim {
		return nil, &OperationError{
			Code:      OperationErrorSchemaMismatch,
			Operation: op,
			Message:   fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", s.cfg.VectorDim, len(query)),
		}
	}
	if n <= 0 {
		n = 10
	}

	qdrantFilter, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector": map[string]any{
			"name":   space,
			"vector": query,
		},
		"limit":        n,
		"with_payload": true,
		"with_vector":  false,
	}
	if threshold > 0 {
		req["score_threshold"] = threshold
	}
	if qdrantFilter != nil {
		req["filter"] = qdrantFilter
	}

	var rawResults []searchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, err
	}

	out := make([]vectorstore.Match, 0, len(rawResults))
	for _, item := range rawResults {
		id := extractChunkID(item)
		if id == "" {
			continue
		}
		out = append(out, vectorstore.Match{
			ID:      id,
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	sortMatches(out)
	return out, nil
}

func (s *store) SearchMerged(ctx context.Context, spaces []string, query []float32, n int, threshold float64, filter map[string]any) ([]vectorstore.Match, error) {
	const op = "search_merged"
	if len(spaces) == 0 {
		spaces = vectorstore.AllSpaces()
	}

	merged := make(map[string]*vectorstore.Match)
	var lastErr error
	succeeded := 0
	for _, space := range spaces {
		matches, err := s.SearchSingle(ctx, space, query, n, threshold, filter)
		if err != nil {
			// A space with no indexed points may still answer; a failed
			// space must not sink the ones that did.
			s.log.Warn("space search failed", "space", space, "error", err)
			lastErr = err
			continue
		}
		succeeded++
		for _, m := range matches {
			existing, ok := merged[m.ID]
			if !ok {
				copied := m
				copied.MatchedSpaces = []string{space}
				merged[m.ID] = &copied
				continue
			}
			if m.Score > existing.Score {
				existing.Score = m.Score
				existing.Payload = m.Payload
			}
			existing.MatchedSpaces = append(existing.MatchedSpaces, space)
		}
	}
	if succeeded == 0 && lastErr != nil {
		return nil, opErr(op, OperationErrorQueryFailed, "all space searches failed", lastErr)
	}

	out := make([]vectorstore.Match, 0, len(merged))
	for _, m := range merged {
		out = append(out, *m)
	}
	sortMatches(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *store) ScrollPayloads(ctx context.Context, filter map[string]any, limit int) ([]vectorstore.Match, error) {
	const op = "scroll"
	qdrantFilter, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}

	var (
		out    []vectorstore.Match
		offset json.RawMessage
	)
	for {
		req := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": true,
			"with_vector":  false,
		}
		if qdrantFilter != nil {
			req["filter"] = qdrantFilter
		}
		if offset != nil {
			req["offset"] = offset
		}

		var page scrollResult
		if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/scroll"), req, &page); err != nil {
			if isMissingCollection(err) {
				return nil, nil
			}
			return nil, err
		}
		for _, item := range page.Points {
			id := extractChunkID(item)
			if id == "" {
				continue
			}
			out = append(out, vectorstore.Match{ID: id, Payload: item.Payload})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if len(page.NextPageOffset) == 0 || string(page.NextPageOffset) == "null" {
			return out, nil
		}
		offset = page.NextPageOffset
	}
}

func (s *store) CountScope(ctx context.Context, scopeID string) (int, error) {
	const op = "count"
	filter, err := buildFilter(map[string]any{types.PayloadScopeID: strings.TrimSpace(scopeID)})
	if err != nil {
		return 0, err
	}
	req := map[string]any{"filter": filter, "exact": true}
	var result struct {
		Count int `json:"count"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/count"), req, &result); err != nil {
		if isMissingCollection(err) {
			return 0, nil
		}
		return 0, err
	}
	return result.Count, nil
}

func (s *store) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"

	readyReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	var result struct {
		Config struct {
			Params struct {
				Vectors map[string]struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err = s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result)
	if isMissingCollection(err) {
		return s.ensureCollection(ctx)
	}
	if err != nil {
		return err
	}

	for space, params := range result.Config.Params.Vectors {
		if !isKnownSpace(space) {
			continue
		}
		if params.Size != 0 && params.Size != s.cfg.VectorDim {
			return &OperationError{
				Code:      OperationErrorSchemaMismatch,
				Operation: op,
				Message: fmt.Sprintf(
					"collection %q space %q vector size mismatch: expected=%d actual=%d",
					s.cfg.Collection, space, s.cfg.VectorDim, params.Size,
				),
			}
		}
	}
	return nil
}

func (s *store) ensureCollection(ctx context.Context) error {
	const op = "create_collection"

	vectors := make(map[string]any, 3)
	for _, space := range vectorstore.AllSpaces() {
		vectors[space] = map[string]any{
			"size":     s.cfg.VectorDim,
			"distance": "Cosine",
		}
	}
	req := map[string]any{
		"vectors": vectors,
		"optimizers_config": map[string]any{
			"indexing_threshold": 10000,
		},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), req, nil); err != nil {
		var opErrTyped *OperationError
		// Another writer may have created it between our check and the PUT.
		if !errors.As(err, &opErrTyped) || opErrTyped.StatusCode != http.StatusConflict {
			return err
		}
	}

	for _, field := range []string{
		types.PayloadScopeID,
		types.PayloadModality,
		types.PayloadDocumentTopic,
		types.PayloadFileName,
	} {
		indexReq := map[string]any{
			"field_name":   field,
			"field_schema": "keyword",
		}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/index"), indexReq, nil); err != nil {
			var opErrTyped *OperationError
			if errors.As(err, &opErrTyped) && opErrTyped.StatusCode == http.StatusConflict {
				continue
			}
			return err
		}
	}
	s.log.Info("collection created", "collection", s.cfg.Collection)
	return nil
}

func (s *store) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.cfg.Collection) + suffix
}

func (s *store) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") || strings.EqualFold(statusString, "acknowledged") || strings.EqualFold(statusString, "completed") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func isMissingCollection(err error) bool {
	var opErrTyped *OperationError
	return errors.As(err, &opErrTyped) && opErrTyped.StatusCode == http.StatusNotFound
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func clonePayload(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func isKnownSpace(space string) bool {
	switch space {
	case vectorstore.SpaceText, vectorstore.SpaceImage, vectorstore.SpaceAudio:
		return true
	default:
		return false
	}
}

// pointID maps a chunk id onto a deterministic UUID so re-ingesting the same
// chunk overwrites its prior point.
func pointID(chunkID string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(chunkID)).String()
}

func extractChunkID(item searchResultItem) string {
	if payloadID, ok := item.Payload[types.PayloadChunkID].(string); ok {
		if id := strings.TrimSpace(payloadID); id != "" {
			return id
		}
	}
	return decodePointID(item.ID)
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func sortMatches(matches []vectorstore.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
}
