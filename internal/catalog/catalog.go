package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/plutolabs/pluto-backend/internal/platform/ctxutil"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/vectorstore"
	"github.com/plutolabs/pluto-backend/internal/types"
)

// Catalog is the projection of everything indexed in a scope: normalized
// topics and concepts for gating, plus per-file summaries for error messages
// and the scope endpoint.
type Catalog struct {
	Topics    []string                   `json:"topics"`
	Concepts  []string                   `json:"concepts"`
	Documents map[string]DocumentSummary `json:"documents"`
}

type DocumentSummary struct {
	Topic      string   `json:"topic"`
	Concepts   []string `json:"concepts"`
	ChunkCount int      `json:"chunk_count"`
	Modalities []string `json:"modalities"`
}

func (c *Catalog) Empty() bool {
	return c == nil || len(c.Documents) == 0
}

type payloadScroller interface {
	ScrollPayloads(ctx context.Context, filter map[string]any, limit int) ([]vectorstore.Match, error)
}

type Service struct {
	log   *logger.Logger
	store payloadScroller
}

func NewService(log *logger.Logger, store payloadScroller) *Service {
	return &Service{log: log.With("service", "CATALOG"), store: store}
}

// Build scans the scope's payloads and derives the catalog. It never writes;
// the result reflects whatever the ingestion pipeline last indexed.
func (s *Service) Build(ctx context.Context, scopeID string) (*Catalog, error) {
	ctx = ctxutil.Default(ctx)
	matches, err := s.store.ScrollPayloads(ctx, map[string]any{types.PayloadScopeID: scopeID}, 0)
	if err != nil {
		return nil, fmt.Errorf("catalog scan for scope: %w", err)
	}

	topicSet := make(map[string]struct{})
	conceptSet := make(map[string]struct{})
	docs := make(map[string]*docAccumulator)

	for _, m := range matches {
		chunk := types.ChunkFromPayload(m.ID, m.Payload)
		if chunk.DocumentTopic != "" {
			if norm := NormalizeTopic(chunk.DocumentTopic); norm != "" {
				topicSet[norm] = struct{}{}
			}
		}
		for _, concept := range chunk.DocumentConcepts {
			if norm := NormalizeConcept(concept); norm != "" {
				conceptSet[norm] = struct{}{}
			}
		}
		if chunk.FileName == "" {
			continue
		}
		doc, ok := docs[chunk.FileName]
		if !ok {
			doc = &docAccumulator{
				concepts:   make(map[string]struct{}),
				modalities: make(map[string]struct{}),
			}
			docs[chunk.FileName] = doc
		}
		doc.chunkCount++
		if doc.topic == "" && chunk.DocumentTopic != "" {
			doc.topic = chunk.DocumentTopic
		}
		for _, concept := range chunk.DocumentConcepts {
			if norm := NormalizeConcept(concept); norm != "" {
				doc.concepts[norm] = struct{}{}
			}
		}
		doc.modalities[string(chunk.Modality)] = struct{}{}
	}

	catalog := &Catalog{
		Topics:    sortedKeys(topicSet),
		Concepts:  sortedKeys(conceptSet),
		Documents: make(map[string]DocumentSummary, len(docs)),
	}
	for name, doc := range docs {
		catalog.Documents[name] = DocumentSummary{
			Topic:      doc.topic,
			Concepts:   sortedKeys(doc.concepts),
			ChunkCount: doc.chunkCount,
			Modalities: sortedKeys(doc.modalities),
		}
	}
	s.log.Debug("catalog built",
		"scope_id", scopeID,
		"topics", len(catalog.Topics),
		"concepts", len(catalog.Concepts),
		"documents", len(catalog.Documents),
	)
	return catalog, nil
}

type docAccumulator struct {
	topic      string
	chunkCount int
	concepts   map[string]struct{}
	modalities map[string]struct{}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
