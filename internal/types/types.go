package types

type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

func ParseModality(raw string) (Modality, bool) {
	switch Modality(raw) {
	case ModalityText, ModalityImage, ModalityAudio:
		return Modality(raw), true
	default:
		return "", false
	}
}

// Chunk is the atomic unit of retrieval. Immutable once indexed.
type Chunk struct {
	ID               string
	ScopeID          string
	Modality         Modality
	SourceType       string
	Content          string
	FileName         string
	PageNumber       int
	ImagePath        string
	Duration         float64
	TimestampRange   string
	DocumentTopic    string
	DocumentConcepts []string
	ChunkIndex       int
	TotalChunks      int
}

// RetrievedChunk is a chunk plus its retrieval metadata for one query.
type RetrievedChunk struct {
	Chunk
	Score         float64
	MatchedSpaces []string
	TextVector    []float32
}

type Citation struct {
	File     string   `json:"file"`
	Page     int      `json:"page,omitempty"`
	Modality Modality `json:"modality"`
	Score    float64  `json:"score"`
}

type QueryAnalysis struct {
	Topic       string
	Concepts    []string
	Paraphrases []string
}

type Turn struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

type RefusalReason string

const (
	RefusalEmptyKnowledgeBase       RefusalReason = "empty_knowledge_base"
	RefusalNoMatch                  RefusalReason = "no_match"
	RefusalInsufficientEvidence     RefusalReason = "insufficient_evidence"
	RefusalTopicDrift               RefusalReason = "topic_drift"
	RefusalNoRetrievedDocuments     RefusalReason = "no_retrieved_documents"
	RefusalGenerationFailed         RefusalReason = "generation_failed"
	RefusalCompatibilityCheckFailed RefusalReason = "compatibility_check_failed"
)

// Refusal is a normal pipeline outcome, not an error.
type Refusal struct {
	Reason  RefusalReason `json:"reason"`
	Message string        `json:"message"`
}

type Answer struct {
	Text          string     `json:"answer"`
	Citations     []Citation `json:"citations"`
	UsedChunkIDs  []string   `json:"used_chunk_ids"`
	IsGrounded    bool       `json:"is_grounded"`
	IsConflicting bool       `json:"is_conflicting"`
	Confidence    float64    `json:"confidence"`
}

// QueryResult is the tagged outcome of one pipeline run: exactly one of
// Answer or Refusal is set.
type QueryResult struct {
	Answer  *Answer
	Refusal *Refusal
}

func (r QueryResult) Refused() bool { return r.Refusal != nil }
