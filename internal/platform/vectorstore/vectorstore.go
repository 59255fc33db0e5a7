package vectorstore

import "context"

// Named vector spaces within the collection. A point may populate a subset.
const (
	SpaceText  = "text_embedding"
	SpaceImage = "image_embedding"
	SpaceAudio = "audio_embedding"
)

func AllSpaces() []string {
	return []string{SpaceText, SpaceImage, SpaceAudio}
}

// Point is the persisted unit: chunk id, one vector per populated space,
// and the full chunk payload.
type Point struct {
	ID      string
	Vectors map[string][]float32
	Payload map[string]any
}

// Match is one search hit. Score is cosine similarity, higher is better.
// MatchedSpaces is populated by merged searches.
type Match struct {
	ID            string
	Score         float64
	Payload       map[string]any
	MatchedSpaces []string
}

type Store interface {
	// Upsert is idempotent by point id and batches internally.
	Upsert(ctx context.Context, points []Point) error
	DeleteByScope(ctx context.Context, scopeID string) error
	// SearchSingle queries one named space. filter is a conjunction of
	// exact-match payload predicates.
	SearchSingle(ctx context.Context, space string, query []float32, n int, threshold float64, filter map[string]any) ([]Match, error)
	// SearchMerged runs SearchSingle per space and merges by point id,
	// keeping the maximum similarity and the union of matching spaces.
	SearchMerged(ctx context.Context, spaces []string, query []float32, n int, threshold float64, filter map[string]any) ([]Match, error)
	// ScrollPayloads pages through payloads matching the filter, vectors
	// excluded. Used to project the scope catalog.
	ScrollPayloads(ctx context.Context, filter map[string]any, limit int) ([]Match, error)
	CountScope(ctx context.Context, scopeID string) (int, error)
}
