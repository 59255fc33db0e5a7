package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/plutolabs/pluto-backend/internal/observability"
	"github.com/plutolabs/pluto-backend/internal/platform/clip"
	"github.com/plutolabs/pluto-backend/internal/platform/ctxutil"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/ollama"
	"github.com/plutolabs/pluto-backend/internal/platform/vectorstore"
	"github.com/plutolabs/pluto-backend/internal/types"
)

const embedConcurrency = 4

var chunkIDNamespace = uuid.MustParse("9f2c5a18-3d74-4b0e-a1c9-6e8f0b2d7c41")

// Options control one ingestion call. A non-empty IdempotencyKey makes chunk
// ids deterministic per (key, file, index) so re-ingestion replaces prior
// points instead of adding new ones.
type Options struct {
	IdempotencyKey string
}

type Result struct {
	Status            string         `json:"status"`
	ChunksIndexed     int            `json:"chunks_indexed"`
	Topic             string         `json:"topic"`
	Concepts          []string       `json:"concepts"`
	PerModalityCounts map[string]int `json:"per_modality_counts"`
	TaskID            string         `json:"task_id,omitempty"`
}

// Pipeline is the only write path into the vector store.
type Pipeline struct {
	log       *logger.Logger
	store     vectorstore.Store
	embedder  clip.Embedder
	llm       ollama.Generator
	producers *Registry
}

func NewPipeline(log *logger.Logger, store vectorstore.Store, embedder clip.Embedder, llm ollama.Generator, producers *Registry) *Pipeline {
	return &Pipeline{
		log:       log.With("service", "INGEST"),
		store:     store,
		embedder:  embedder,
		llm:       llm,
		producers: producers,
	}
}

func (p *Pipeline) Ingest(ctx context.Context, file File, scopeID string, opts Options) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	if err := ValidateFile(file.Name, len(file.Data)); err != nil {
		return nil, err
	}
	producer, ok := p.producers.ForFile(file)
	if !ok {
		return nil, &Error{
			Code:    ErrorUnsupportedType,
			Message: fmt.Sprintf("no chunk producer registered for %q", file.Ext()),
		}
	}
	raw, err := producer.Produce(ctx, file)
	if err != nil {
		var ie *Error
		if errors.As(err, &ie) {
			return nil, ie
		}
		return nil, &Error{Code: ErrorProduceFailed, Message: "chunk production failed", Cause: err}
	}
	if len(raw) == 0 {
		p.log.Warn("file produced no chunks", "file", file.Name, "scope_id", scopeID)
		return &Result{
			Status:            "done",
			Topic:             topicFromFilename(file.Name),
			PerModalityCounts: map[string]int{},
		}, nil
	}

	topic, concepts := deriveTopic(ctx, p.log, p.llm, raw, file.Name)
	p.log.Info("document analyzed",
		"file", file.Name,
		"scope_id", scopeID,
		"chunks", len(raw),
		"topic", topic,
		"concepts", len(concepts),
	)

	points := p.embedChunks(ctx, file, scopeID, topic, concepts, raw, opts)
	counts := map[string]int{}
	kept := points[:0]
	for i, pt := range points {
		if pt == nil {
			continue
		}
		kept = append(kept, pt)
		counts[string(raw[i].Modality)]++
	}
	if len(kept) == 0 {
		p.log.Warn("no chunk produced an embedding", "file", file.Name, "scope_id", scopeID)
		return &Result{
			Status:            "done",
			Topic:             topic,
			Concepts:          concepts,
			PerModalityCounts: counts,
		}, nil
	}

	upsert := make([]vectorstore.Point, 0, len(kept))
	for _, pt := range kept {
		upsert = append(upsert, *pt)
	}
	if err := p.store.Upsert(ctx, upsert); err != nil {
		return nil, &Error{Code: ErrorStorageFailed, Message: "vector upsert failed", Cause: err}
	}
	for modality, n := range counts {
		observability.Current().ObserveIngestedChunks(ctx, modality, n)
	}
	p.log.Info("file indexed",
		"file", file.Name,
		"scope_id", scopeID,
		"chunks_indexed", len(kept),
	)
	return &Result{
		Status:            "done",
		ChunksIndexed:     len(kept),
		Topic:             topic,
		Concepts:          concepts,
		PerModalityCounts: counts,
	}, nil
}

// embedChunks computes vectors concurrently. A chunk whose embeddings all
// fail is skipped with a warning rather than failing the file.
func (p *Pipeline) embedChunks(ctx context.Context, file File, scopeID, topic string, concepts []string, raw []RawChunk, opts Options) []*vectorstore.Point {
	points := make([]*vectorstore.Point, len(raw))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i := range raw {
		i := i
		g.Go(func() error {
			points[i] = p.embedOne(gctx, file, scopeID, topic, concepts, raw[i], i, len(raw), opts)
			return nil
		})
	}
	_ = g.Wait()
	return points
}

func (p *Pipeline) embedOne(ctx context.Context, file File, scopeID, topic string, concepts []string, rc RawChunk, index, total int, opts Options) *vectorstore.Point {
	vectors := make(map[string][]float32)
	if strings.TrimSpace(rc.Content) != "" {
		vec, err := p.embedder.EmbedText(ctx, rc.Content)
		if err != nil {
			p.log.Warn("text embedding failed", "file", file.Name, "chunk_index", index, "error", err)
		} else {
			vectors[vectorstore.SpaceText] = vec
		}
	}
	if len(rc.ImageData) > 0 {
		vec, err := p.embedder.EmbedImage(ctx, rc.ImageData)
		if err != nil {
			p.log.Warn("image embedding failed", "file", file.Name, "chunk_index", index, "error", err)
		} else {
			vectors[vectorstore.SpaceImage] = vec
		}
	}
	if len(vectors) == 0 {
		p.log.Warn("chunk skipped, no embedding produced", "file", file.Name, "chunk_index", index)
		return nil
	}
	chunk := types.Chunk{
		ID:               chunkID(opts, file.Name, index),
		ScopeID:          scopeID,
		Modality:         rc.Modality,
		SourceType:       strings.TrimPrefix(file.Ext(), "."),
		Content:          rc.Content,
		FileName:         file.Name,
		PageNumber:       rc.PageNumber,
		ImagePath:        rc.ImagePath,
		Duration:         rc.Duration,
		TimestampRange:   rc.TimestampRange,
		DocumentTopic:    topic,
		DocumentConcepts: concepts,
		ChunkIndex:       index,
		TotalChunks:      total,
	}
	return &vectorstore.Point{
		ID:      chunk.ID,
		Vectors: vectors,
		Payload: chunk.Payload(),
	}
}

func chunkID(opts Options, filename string, index int) string {
	if opts.IdempotencyKey != "" {
		seed := fmt.Sprintf("%s/%s#%d", opts.IdempotencyKey, filename, index)
		return uuid.NewSHA1(chunkIDNamespace, []byte(seed)).String()
	}
	return uuid.NewString()
}
