package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plutolabs/pluto-backend/internal/observability"
	"github.com/plutolabs/pluto-backend/internal/platform/clip"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/vectorstore"
	"github.com/plutolabs/pluto-backend/internal/types"
)

type RetrieverConfig struct {
	SimilarityThreshold float64
	MMRLambda           float64
}

// Retriever fans one query (plus paraphrases) out across the requested
// vector spaces and merges everything into a single ranked candidate list.
type Retriever struct {
	log      *logger.Logger
	store    vectorstore.Store
	embedder clip.Embedder
	cfg      RetrieverConfig
}

func NewRetriever(log *logger.Logger, store vectorstore.Store, embedder clip.Embedder, cfg RetrieverConfig) *Retriever {
	return &Retriever{log: log.With("service", "RETRIEVER"), store: store, embedder: embedder, cfg: cfg}
}

// Retrieve embeds every query variant and searches them concurrently with
// n = 2·topK each, then merges by chunk id keeping the max similarity and the
// union of matched spaces. MMR trims the merged set down to topK.
func (r *Retriever) Retrieve(ctx context.Context, scopeID string, queries []string, topK int, modalities []types.Modality) ([]types.RetrievedChunk, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	spaces := spacesFor(modalities)
	vectors, err := r.embedder.EmbedTexts(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}

	filter := map[string]any{types.PayloadScopeID: scopeID}
	perQuery := make([][]vectorstore.Match, len(vectors))
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, vec := range vectors {
		i, vec := i, vec
		g.Go(func() error {
			matches, err := r.store.SearchMerged(gctx, spaces, vec, 2*topK, r.cfg.SimilarityThreshold, filter)
			if err != nil {
				return err
			}
			perQuery[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("merged search: %w", err)
	}
	observability.Current().ObserveSearch(ctx, spaces, time.Since(start))

	merged := make(map[string]*types.RetrievedChunk)
	for _, matches := range perQuery {
		for _, m := range matches {
			chunk := types.ChunkFromPayload(m.ID, m.Payload)
			existing, ok := merged[chunk.ID]
			if !ok {
				merged[chunk.ID] = &types.RetrievedChunk{
					Chunk:         chunk,
					Score:         m.Score,
					MatchedSpaces: append([]string(nil), m.MatchedSpaces...),
				}
				continue
			}
			if m.Score > existing.Score {
				existing.Score = m.Score
			}
			existing.MatchedSpaces = unionSpaces(existing.MatchedSpaces, m.MatchedSpaces)
		}
	}

	candidates := make([]types.RetrievedChunk, 0, len(merged))
	for _, rc := range merged {
		candidates = append(candidates, *rc)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Chunk.ID < candidates[j].Chunk.ID
	})

	if len(candidates) > topK {
		candidates = mmrSelect(candidates, topK, r.cfg.MMRLambda)
	}
	r.log.Info("retrieval complete",
		"scope_id", scopeID,
		"queries", len(queries),
		"spaces", len(spaces),
		"candidates", len(merged),
		"selected", len(candidates),
	)
	return candidates, nil
}

func spacesFor(modalities []types.Modality) []string {
	if len(modalities) == 0 {
		return vectorstore.AllSpaces()
	}
	var spaces []string
	for _, m := range modalities {
		switch m {
		case types.ModalityText:
			spaces = append(spaces, vectorstore.SpaceText)
		case types.ModalityImage:
			spaces = append(spaces, vectorstore.SpaceImage)
		case types.ModalityAudio:
			spaces = append(spaces, vectorstore.SpaceAudio)
		}
	}
	if len(spaces) == 0 {
		return vectorstore.AllSpaces()
	}
	return spaces
}

func unionSpaces(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			a = append(a, s)
		}
	}
	return a
}
