package types

import "strings"

// Payload keys shared between the ingestion writer and the retrieval readers.
const (
	PayloadChunkID          = "chunk_id"
	PayloadScopeID          = "scope_id"
	PayloadModality         = "modality"
	PayloadSourceType       = "source_type"
	PayloadContent          = "content"
	PayloadFileName         = "file_name"
	PayloadPageNumber       = "page_number"
	PayloadImagePath        = "image_path"
	PayloadDuration         = "duration"
	PayloadTimestampRange   = "timestamp_range"
	PayloadDocumentTopic    = "document_topic"
	PayloadDocumentConcepts = "document_concepts"
	PayloadChunkIndex       = "chunk_index"
	PayloadTotalChunks      = "total_chunks"
)

func (c Chunk) Payload() map[string]any {
	p := map[string]any{
		PayloadChunkID:       c.ID,
		PayloadScopeID:       c.ScopeID,
		PayloadModality:      string(c.Modality),
		PayloadSourceType:    c.SourceType,
		PayloadContent:       c.Content,
		PayloadFileName:      c.FileName,
		PayloadDocumentTopic: c.DocumentTopic,
		PayloadChunkIndex:    c.ChunkIndex,
		PayloadTotalChunks:   c.TotalChunks,
	}
	if len(c.DocumentConcepts) > 0 {
		concepts := make([]any, 0, len(c.DocumentConcepts))
		for _, concept := range c.DocumentConcepts {
			concepts = append(concepts, concept)
		}
		p[PayloadDocumentConcepts] = concepts
	}
	if c.PageNumber > 0 {
		p[PayloadPageNumber] = c.PageNumber
	}
	if c.ImagePath != "" {
		p[PayloadImagePath] = c.ImagePath
	}
	if c.Duration > 0 {
		p[PayloadDuration] = c.Duration
	}
	if c.TimestampRange != "" {
		p[PayloadTimestampRange] = c.TimestampRange
	}
	return p
}

// ChunkFromPayload rebuilds a chunk from a stored payload. Missing fields
// come back zero-valued; the chunk id falls back to the supplied point id.
func ChunkFromPayload(pointID string, payload map[string]any) Chunk {
	c := Chunk{
		ID:             payloadString(payload, PayloadChunkID),
		ScopeID:        payloadString(payload, PayloadScopeID),
		SourceType:     payloadString(payload, PayloadSourceType),
		Content:        payloadString(payload, PayloadContent),
		FileName:       payloadString(payload, PayloadFileName),
		ImagePath:      payloadString(payload, PayloadImagePath),
		TimestampRange: payloadString(payload, PayloadTimestampRange),
		DocumentTopic:  payloadString(payload, PayloadDocumentTopic),
		PageNumber:     payloadInt(payload, PayloadPageNumber),
		ChunkIndex:     payloadInt(payload, PayloadChunkIndex),
		TotalChunks:    payloadInt(payload, PayloadTotalChunks),
		Duration:       payloadFloat(payload, PayloadDuration),
	}
	if c.ID == "" {
		c.ID = pointID
	}
	if m, ok := ParseModality(payloadString(payload, PayloadModality)); ok {
		c.Modality = m
	} else {
		c.Modality = ModalityText
	}
	if raw, ok := payload[PayloadDocumentConcepts].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				c.DocumentConcepts = append(c.DocumentConcepts, s)
			}
		}
	}
	return c
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func payloadFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
