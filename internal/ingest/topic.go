package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/plutolabs/pluto-backend/internal/catalog"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/ollama"
)

const (
	maxTopicSamples     = 5
	maxSampleLength     = 400
	maxCombinedLength   = 1500
	minSampleLength     = 30
	maxDocumentConcepts = 15
)

const defaultDocumentTopic = "General Document"

const topicPromptFormat = `Analyze this document and extract:
1. TOPIC: Main subject (2-4 words)
2. CONCEPTS: Key terms (5-10 single words)

Text: %s

Format:
TOPIC: <topic>
CONCEPTS: <word1>, <word2>, ...

Response:`

// deriveTopic asks the LLM for a document topic and concept list from the
// first few substantial chunk samples. Any failure falls back to the
// filename, which always yields a non-empty topic.
func deriveTopic(ctx context.Context, log *logger.Logger, llm ollama.Generator, chunks []RawChunk, filename string) (string, []string) {
	combined := sampleText(chunks)
	if combined == "" || llm == nil {
		return topicFallback(filename)
	}
	response, err := llm.Generate(ctx, fmt.Sprintf(topicPromptFormat, combined), ollama.GenerateOptions{
		MaxTokens:   100,
		Temperature: 0.1,
	})
	if err != nil {
		log.Warn("topic extraction failed, using filename", "file", filename, "error", err)
		return topicFallback(filename)
	}
	topic, concepts := parseTopicResponse(response)
	if topic == "" {
		fbTopic, fbConcepts := topicFallback(filename)
		topic = fbTopic
		if len(concepts) == 0 {
			concepts = fbConcepts
		}
	}
	return topic, concepts
}

// topicFallback pairs the filename topic with concepts drawn from its
// tokens, so topic-only documents still register in the scope catalog.
func topicFallback(filename string) (string, []string) {
	topic := topicFromFilename(filename)
	if topic == defaultDocumentTopic {
		return topic, nil
	}
	return topic, catalog.ExtractConceptsFromText(topic, maxDocumentConcepts)
}

func sampleText(chunks []RawChunk) string {
	var samples []string
	for _, chunk := range chunks {
		if len(samples) >= maxTopicSamples {
			break
		}
		content := strings.TrimSpace(chunk.Content)
		if len(content) < minSampleLength {
			continue
		}
		if len(content) > maxSampleLength {
			content = content[:maxSampleLength]
		}
		samples = append(samples, content)
	}
	combined := strings.Join(samples, "\n")
	if len(combined) > maxCombinedLength {
		combined = combined[:maxCombinedLength]
	}
	return combined
}

func parseTopicResponse(response string) (string, []string) {
	var topic string
	var concepts []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "TOPIC:"):
			topic = strings.Trim(strings.TrimSpace(line[len("TOPIC:"):]), `"'`)
		case strings.HasPrefix(upper, "CONCEPTS:"):
			for _, c := range strings.Split(line[len("CONCEPTS:"):], ",") {
				c = strings.ToLower(strings.TrimSpace(c))
				if c != "" {
					concepts = append(concepts, c)
				}
			}
		}
	}
	switch strings.ToLower(topic) {
	case "", "unknown", "none":
		topic = ""
	}
	if len(concepts) > maxDocumentConcepts {
		concepts = concepts[:maxDocumentConcepts]
	}
	return topic, concepts
}

// topicFromFilename derives a topic from the file stem, dropping a leading
// 8-character alphanumeric upload prefix.
func topicFromFilename(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	parts := strings.Fields(stem)
	if len(parts) > 0 && len(parts[0]) == 8 && isAlnum(parts[0]) {
		parts = parts[1:]
	}
	topic := catalog.TitleWords(strings.Join(parts, " "))
	if topic == "" {
		return defaultDocumentTopic
	}
	return topic
}

func isAlnum(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
