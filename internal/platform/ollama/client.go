package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/plutolabs/pluto-backend/internal/observability"
	"github.com/plutolabs/pluto-backend/internal/platform/ctxutil"
	"github.com/plutolabs/pluto-backend/internal/platform/envutil"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
)

// Generator is the consumer-side contract for text generation. Every
// LLM-assisted pipeline stage depends on this interface rather than on the
// concrete Ollama client.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// VisionDescriber is implemented when a vision-capable model is configured.
type VisionDescriber interface {
	DescribeImage(ctx context.Context, image []byte, prompt string) (string, error)
	VisionAvailable() bool
}

type GenerateOptions struct {
	System      string
	MaxTokens   int
	Temperature float64
	Stop        []string
}

type ErrorCode string

const (
	ErrorEmptyPrompt  ErrorCode = "empty_prompt"
	ErrorTimeout      ErrorCode = "timeout"
	ErrorUnavailable  ErrorCode = "unavailable"
	ErrorDecodeFailed ErrorCode = "decode_failed"
	ErrorNoVision     ErrorCode = "no_vision_model"
)

type Error struct {
	Code       ErrorCode
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ollama: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("ollama: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsTimeout reports whether err is a generation deadline failure. Callers use
// this to pick the stage-specific fallback instead of failing the request.
func IsTimeout(err error) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == ErrorTimeout
}

const (
	defaultModel        = "llama3.2:1b"
	defaultTimeout      = 120 * time.Second
	maxErrorBodyBytes   = 512
	maxResponseBodySize = 8 << 20
)

type Client struct {
	log         *logger.Logger
	http        *http.Client
	baseURL     string
	model       string
	visionModel string
	timeout     time.Duration
}

func NewClient(log *logger.Logger) (*Client, error) {
	raw := envutil.String("OLLAMA_URL", "http://localhost:11434")
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &Error{Code: ErrorUnavailable, Message: fmt.Sprintf("invalid OLLAMA_URL %q", raw), Cause: err}
	}
	timeout := envutil.DurationSeconds("OLLAMA_TIMEOUT_SECONDS", defaultTimeout)
	c := &Client{
		log:         log.With("service", "OLLAMA_CLIENT"),
		http:        &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(raw, "/"),
		model:       envutil.String("OLLAMA_MODEL", defaultModel),
		visionModel: envutil.String("OLLAMA_VISION_MODEL", ""),
		timeout:     timeout,
	}
	c.log.Info("ollama client configured",
		"url", c.baseURL,
		"model", c.model,
		"vision_model", c.visionModel,
		"timeout", timeout.String(),
	)
	return c, nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Images  []string        `json:"images,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", &Error{Code: ErrorEmptyPrompt, Message: "prompt is empty"}
	}
	return c.generate(ctx, "generate", generateRequest{
		Model:  c.model,
		Prompt: prompt,
		System: opts.System,
		Options: generateOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
			Stop:        opts.Stop,
		},
	})
}

func (c *Client) VisionAvailable() bool { return c.visionModel != "" }

func (c *Client) DescribeImage(ctx context.Context, image []byte, prompt string) (string, error) {
	if c.visionModel == "" {
		return "", &Error{Code: ErrorNoVision, Message: "no vision model configured"}
	}
	if len(image) == 0 {
		return "", &Error{Code: ErrorEmptyPrompt, Message: "image is empty"}
	}
	return c.generate(ctx, "describe_image", generateRequest{
		Model:   c.visionModel,
		Prompt:  prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(image)},
		Options: generateOptions{Temperature: 0.1},
	})
}

func (c *Client) generate(ctx context.Context, operation string, req generateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	text, err := c.doGenerate(ctx, req)
	took := time.Since(start)
	observability.Current().ObserveLLMRequest(ctx, req.Model, operation, err == nil, took)
	if err != nil {
		c.log.Warn("generation failed",
			"operation", operation,
			"model", req.Model,
			"took", took.String(),
			"error", err,
		)
		return "", err
	}
	return text, nil
}

func (c *Client) doGenerate(ctx context.Context, req generateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", &Error{Code: ErrorDecodeFailed, Message: "encode request", Cause: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Code: ErrorUnavailable, Message: "build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", classifyCallError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", classifyCallError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{
			Code:       ErrorUnavailable,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("generate returned status %d: %s", resp.StatusCode, truncateBody(raw)),
		}
	}
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &Error{Code: ErrorDecodeFailed, StatusCode: resp.StatusCode, Message: "decode response", Cause: err}
	}
	return strings.TrimSpace(out.Response), nil
}

func classifyCallError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: ErrorTimeout, Message: "generation deadline exceeded", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Code: ErrorTimeout, Message: "generation deadline exceeded", Cause: err}
	}
	return &Error{Code: ErrorUnavailable, Message: "generate call failed", Cause: err}
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBodyBytes {
		return s[:maxErrorBodyBytes] + "..."
	}
	return s
}
