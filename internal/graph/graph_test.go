package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/ollama"
	"github.com/plutolabs/pluto-backend/internal/platform/vectorstore"
	"github.com/plutolabs/pluto-backend/internal/types"
)

var ollamaTimeout = ollama.Error{Code: ollama.ErrorTimeout, Message: "generation deadline exceeded"}

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

// scriptedLLM answers by the first prompt-substring rule that matches, so a
// single fake can serve analysis, gating, grading, and generation.
type scriptedLLM struct {
	rules   []llmRule
	prompts []string
}

type llmRule struct {
	contains string
	response string
	err      error
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, _ ollama.GenerateOptions) (string, error) {
	s.prompts = append(s.prompts, prompt)
	for _, r := range s.rules {
		if strings.Contains(prompt, r.contains) {
			return r.response, r.err
		}
	}
	return "", &ollama.Error{Code: ollama.ErrorUnavailable, Message: "no scripted response"}
}

type fakeSearchStore struct {
	vectorstore.Store
	matches    []vectorstore.Match
	searchErr  error
	scrollOut  []vectorstore.Match
	scrollErr  error
	searchReqs int
}

func (f *fakeSearchStore) SearchMerged(_ context.Context, _ []string, _ []float32, _ int, _ float64, _ map[string]any) ([]vectorstore.Match, error) {
	f.searchReqs++
	return f.matches, f.searchErr
}

func (f *fakeSearchStore) ScrollPayloads(_ context.Context, _ map[string]any, _ int) ([]vectorstore.Match, error) {
	return f.scrollOut, f.scrollErr
}

type fakeQueryEmbedder struct{}

func (fakeQueryEmbedder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f fakeQueryEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fakeQueryEmbedder) EmbedImage(_ context.Context, _ []byte) ([]float32, error) {
	return []float32{0, 1, 0}, nil
}

func (fakeQueryEmbedder) Dimension() int { return 3 }

func textMatch(id, file, content string, score float64) vectorstore.Match {
	return vectorstore.Match{
		ID:    id,
		Score: score,
		Payload: map[string]any{
			"chunk_id": id, "scope_id": "s1", "modality": "text",
			"content": content, "file_name": file,
		},
		MatchedSpaces: []string{vectorstore.SpaceText},
	}
}

func scrolledChunk(id, file, topic string, concepts ...string) vectorstore.Match {
	anyConcepts := make([]any, len(concepts))
	for i, c := range concepts {
		anyConcepts[i] = c
	}
	return vectorstore.Match{ID: id, Payload: map[string]any{
		"chunk_id": id, "scope_id": "s1", "modality": "text",
		"file_name": file, "document_topic": topic, "document_concepts": anyConcepts,
	}}
}

func retrieved(id, file, content string, score float64) types.RetrievedChunk {
	return types.RetrievedChunk{
		Chunk: types.Chunk{ID: id, FileName: file, Content: content, Modality: types.ModalityText},
		Score: score,
	}
}
