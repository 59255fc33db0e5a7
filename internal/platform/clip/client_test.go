package clip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/plutolabs/pluto-backend/internal/platform/logger"
)

func TestEmbedTextsCachesRepeatedInput(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		calls++
		var body struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		embeddings := make([][]float32, len(body.Texts))
		for i := range body.Texts {
			embeddings[i] = []float32{3, 0, 4}
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"embeddings": embeddings}), nil
	})

	first, err := c.EmbedText(context.Background(), "photosynthesis")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	second, err := c.EmbedText(context.Background(), "photosynthesis")
	if err != nil {
		t.Fatalf("EmbedText cached: %v", err)
	}
	if calls != 1 {
		t.Fatalf("server calls: want=1 got=%d", calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cache changed observable output at %d: %v vs %v", i, first, second)
		}
	}
	// 3-4-5 triangle: normalized to 0.6, 0, 0.8.
	if diff := float64(first[0]) - 0.6; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("normalization: want first component 0.6 got=%v", first[0])
	}
}

func TestEmbedTextEmptyInput(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	_, err := c.EmbedText(context.Background(), "   ")
	var embTyped *Error
	if !errors.As(err, &embTyped) {
		t.Fatalf("expected Error, got=%T", err)
	}
	if embTyped.Code != ErrorEmptyInput {
		t.Fatalf("code: want=%q got=%q", ErrorEmptyInput, embTyped.Code)
	}
}

func TestEmbedImageBadBytes(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusUnprocessableEntity, map[string]any{"detail": "cannot decode image"}), nil
	})
	_, err := c.EmbedImage(context.Background(), []byte{0xde, 0xad})
	var embTyped *Error
	if !errors.As(err, &embTyped) {
		t.Fatalf("expected Error, got=%T", err)
	}
	if embTyped.Code != ErrorBadImage {
		t.Fatalf("code: want=%q got=%q", ErrorBadImage, embTyped.Code)
	}
}

func TestEmbedTextsDimensionMismatch(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusOK, map[string]any{
			"embeddings": [][]float32{{1, 2}},
		}), nil
	})
	_, err := c.EmbedText(context.Background(), "hello")
	var embTyped *Error
	if !errors.As(err, &embTyped) {
		t.Fatalf("expected Error, got=%T", err)
	}
	if embTyped.Code != ErrorBadDimension {
		t.Fatalf("code: want=%q got=%q", ErrorBadDimension, embTyped.Code)
	}
}

func TestTextCacheFIFOEviction(t *testing.T) {
	cache := newTextCache(3)
	for i := 0; i < 3; i++ {
		cache.put(fmt.Sprintf("text-%d", i), []float32{float32(i)})
	}
	cache.put("text-3", []float32{3})

	if cache.len() != 3 {
		t.Fatalf("cache size: want=3 got=%d", cache.len())
	}
	if _, ok := cache.get("text-0"); ok {
		t.Fatalf("oldest entry should have been evicted")
	}
	if _, ok := cache.get("text-3"); !ok {
		t.Fatalf("newest entry missing")
	}
}

func newTestClient(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *client {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return &client{
		log:     log,
		baseURL: "http://embed.local",
		dim:     3,
		http: &http.Client{
			Transport: roundTripFunc(roundTrip),
		},
		cache: newTextCache(10),
	}
}

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
