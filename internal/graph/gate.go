package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/plutolabs/pluto-backend/internal/catalog"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/ollama"
	"github.com/plutolabs/pluto-backend/internal/types"
)

const topicJaccardThreshold = 0.6

const emptyKnowledgeBaseMessage = "No documents are uploaded yet. Please upload documents before asking questions."

const semanticGatePromptFormat = `Task: Determine if the Query Topic belongs to the Knowledge Base.
Query Topic: %s
Knowledge Base Topics: %s

Is '%s' related to or a sub-topic of the Knowledge Base?
Respond with exactly YES or NO.`

// Decision is the gate verdict. A denied decision carries the refusal the
// pipeline should return as-is.
type Decision struct {
	Allowed bool
	Refusal *types.Refusal
	Rule    string
}

// Gate decides whether a query is answerable from the scope's catalog before
// any retrieval happens. Rules run cheapest first; the LLM is consulted only
// when string matching fails.
type Gate struct {
	log *logger.Logger
	llm ollama.Generator
}

func NewGate(log *logger.Logger, llm ollama.Generator) *Gate {
	return &Gate{log: log.With("service", "GATE"), llm: llm}
}

func (g *Gate) Check(ctx context.Context, query string, analysis types.QueryAnalysis, cat *catalog.Catalog) Decision {
	if cat.Empty() {
		return Decision{
			Rule: "empty_catalog",
			Refusal: &types.Refusal{
				Reason:  types.RefusalEmptyKnowledgeBase,
				Message: emptyKnowledgeBaseMessage,
			},
		}
	}

	queryTopic := catalog.NormalizeTopic(analysis.Topic)
	queryConcepts := make([]string, 0, len(analysis.Concepts))
	for _, c := range analysis.Concepts {
		if norm := catalog.NormalizeConcept(c); norm != "" {
			queryConcepts = append(queryConcepts, norm)
		}
	}

	if rule := g.match(ctx, queryTopic, queryConcepts, cat); rule != "" {
		g.log.Info("gate allowed", "rule", rule, "topic", analysis.Topic)
		return Decision{Allowed: true, Rule: rule}
	}

	g.log.Info("gate denied", "topic", analysis.Topic, "catalog_topics", len(cat.Topics))
	return Decision{
		Rule:    "no_match",
		Refusal: &types.Refusal{Reason: types.RefusalNoMatch, Message: noMatchMessage(query, analysis, cat)},
	}
}

func (g *Gate) match(ctx context.Context, queryTopic string, queryConcepts []string, cat *catalog.Catalog) string {
	// Rule 1: any query concept overlapping a catalog concept.
	for _, qc := range queryConcepts {
		for _, cc := range cat.Concepts {
			if qc == cc || strings.Contains(cc, qc) || strings.Contains(qc, cc) {
				return "concept_overlap"
			}
		}
	}
	// Rule 2: a query concept naming part of a catalog topic.
	for _, qc := range queryConcepts {
		for _, topic := range cat.Topics {
			if strings.Contains(topic, qc) {
				return "concept_in_topic"
			}
		}
	}
	// Rule 3: fuzzy topic match.
	if catalog.TopicsMatch(queryTopic, cat.Topics, topicJaccardThreshold) {
		return "topic_match"
	}
	// Rule 4: semantic fallback. An LLM failure reads as NO.
	if queryTopic != "" && g.semanticMatch(ctx, queryTopic, cat.Topics) {
		return "semantic_match"
	}
	return ""
}

func (g *Gate) semanticMatch(ctx context.Context, queryTopic string, topics []string) bool {
	prompt := fmt.Sprintf(semanticGatePromptFormat, queryTopic, strings.Join(topics, ", "), queryTopic)
	response, err := g.llm.Generate(ctx, prompt, ollama.GenerateOptions{
		MaxTokens:   10,
		Temperature: 0.0,
	})
	if err != nil {
		g.log.Warn("semantic gate check failed, denying", "error", err)
		return false
	}
	return strings.Contains(strings.ToUpper(response), "YES")
}

func noMatchMessage(query string, analysis types.QueryAnalysis, cat *catalog.Catalog) string {
	topicList := strings.Join(cat.Topics, ", ")
	if topicList == "" {
		topicList = "Unknown"
	}
	concepts := cat.Concepts
	ellipsis := ""
	if len(concepts) > 10 {
		concepts = concepts[:10]
		ellipsis = "..."
	}
	conceptPreview := strings.Join(concepts, ", ")
	if conceptPreview == "" {
		conceptPreview = "Unknown"
	}
	return fmt.Sprintf(
		"I cannot answer the question: '%s'.\n\n"+
			"Reason: Topic/Concept Mismatch. Your question is about '%s' with concepts [%s], "+
			"but my current knowledge base only contains:\n"+
			"  - Topics: %s\n"+
			"  - Sample Concepts: %s%s\n\n"+
			"Suggestion: Please upload documents relevant to '%s'.",
		query, analysis.Topic, strings.Join(analysis.Concepts, ", "),
		topicList, conceptPreview, ellipsis, analysis.Topic,
	)
}
