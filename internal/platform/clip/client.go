package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/plutolabs/pluto-backend/internal/platform/ctxutil"
	"github.com/plutolabs/pluto-backend/internal/platform/envutil"
	"github.com/plutolabs/pluto-backend/internal/platform/httpx"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
)

// Embedder is the embedding gateway: one text encoder and one image encoder
// producing fixed-dimension cosine-normalized vectors.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	Dimension() int
}

type ErrorCode string

const (
	ErrorEmptyInput      ErrorCode = "empty_input"
	ErrorBadImage        ErrorCode = "bad_image"
	ErrorTransportFailed ErrorCode = "transport_failed"
	ErrorTimeout         ErrorCode = "timeout"
	ErrorDecodeFailed    ErrorCode = "decode_failed"
	ErrorBadDimension    ErrorCode = "bad_dimension"
)

type Error struct {
	Code       ErrorCode
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "embedding failed"
	}
	if e.Message != "" {
		return fmt.Sprintf("embedding failed (code=%s status=%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("embedding failed (code=%s status=%d): %v", e.Code, e.StatusCode, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *Error) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func embErr(code ErrorCode, msg string, cause error) error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

type client struct {
	log        *logger.Logger
	baseURL    string
	dim        int
	maxRetries int
	http       *http.Client
	cache      *textCache
}

func NewClient(log *logger.Logger) (Embedder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimSpace(os.Getenv("EMBED_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing EMBED_URL")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid EMBED_URL=%q", baseURL)
	}

	dim := envutil.Int("EMBED_VECTOR_DIM", 512)
	if dim <= 0 {
		return nil, fmt.Errorf("invalid EMBED_VECTOR_DIM=%d", dim)
	}

	return &client{
		log:        log.With("service", "ClipEmbedder"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		dim:        dim,
		maxRetries: envutil.Int("EMBED_MAX_RETRIES", 2),
		http: &http.Client{
			Timeout: envutil.DurationSeconds("EMBED_TIMEOUT_SECONDS", 30*time.Second),
		},
		cache: newTextCache(envutil.Int("EMBED_CACHE_SIZE", 1000)),
	}, nil
}

func (c *client) Dimension() int { return c.dim }

func (c *client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, embErr(ErrorEmptyInput, fmt.Sprintf("text %d is empty", i), nil)
		}
	}

	out := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingIdx := make([]int, 0, len(texts))
	for i, t := range texts {
		if vec, ok := c.cache.get(t); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	req := map[string]any{"texts": missing}
	if err := c.do(ctx, "/embed/text", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(missing) {
		return nil, embErr(
			ErrorDecodeFailed,
			fmt.Sprintf("embedding count mismatch: requested=%d returned=%d", len(missing), len(resp.Embeddings)),
			nil,
		)
	}
	for j, vec := range resp.Embeddings {
		normalized, err := c.normalize(vec)
		if err != nil {
			return nil, err
		}
		out[missingIdx[j]] = normalized
		c.cache.put(missing[j], normalized)
	}
	return out, nil
}

func (c *client) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, embErr(ErrorEmptyInput, "image bytes are empty", nil)
	}

	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	req := map[string]any{"image": base64.StdEncoding.EncodeToString(data)}
	if err := c.do(ctx, "/embed/image", req, &resp); err != nil {
		var embTyped *Error
		if errors.As(err, &embTyped) && embTyped.StatusCode == http.StatusUnprocessableEntity {
			return nil, &Error{Code: ErrorBadImage, StatusCode: embTyped.StatusCode, Message: "image bytes not decodable", Cause: err}
		}
		return nil, err
	}
	return c.normalize(resp.Embedding)
}

func (c *client) do(ctx context.Context, path string, in, out any) error {
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return classifyCallError("context done", ctx.Err())
		}
		resp, err := c.doOnce(ctx, path, in, out)
		if err == nil {
			return nil
		}
		if attempt >= c.maxRetries || !httpx.IsRetryableError(err) {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 5*time.Second))
		c.log.Warn("embedding request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
}

func (c *client) doOnce(ctx context.Context, path string, in, out any) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(in); err != nil {
		return nil, embErr(ErrorDecodeFailed, "encode request failed", err)
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, embErr(ErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyCallError("embedding request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if readErr != nil {
		return resp, embErr(ErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return resp, &Error{
			Code:       ErrorTransportFailed,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("embedding http status=%d body=%q", resp.StatusCode, msg),
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp, embErr(ErrorDecodeFailed, "decode response failed", err)
	}
	return resp, nil
}

func classifyCallError(message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return embErr(ErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return embErr(ErrorTimeout, message, err)
	}
	return embErr(ErrorTransportFailed, message, err)
}

// normalize L2-normalizes the vector; downstream cosine scoring assumes
// unit-length vectors and the store never renormalizes.
func (c *client) normalize(vec []float32) ([]float32, error) {
	if len(vec) != c.dim {
		return nil, embErr(
			ErrorBadDimension,
			fmt.Sprintf("embedding dimension mismatch: expected=%d got=%d", c.dim, len(vec)),
			nil,
		)
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec, nil
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}
