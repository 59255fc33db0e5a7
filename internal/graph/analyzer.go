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

const maxParaphrases = 2

const analysisPromptFormat = `Extract the TOPIC (1-3 words) and KEY CONCEPTS (important nouns/entities) from this question.

Format:
Topic: [topic name]
Concepts: [concept1, concept2, concept3]

Examples:
Question: "What is photosynthesis?" → Topic: Photosynthesis | Concepts: photosynthesis, plants, energy
Question: "How does carbon dioxide affect plants?" → Topic: Plant Biology | Concepts: carbon dioxide, plants, CO2, gas exchange
Question: "Explain machine learning algorithms" → Topic: Machine Learning | Concepts: algorithms, AI, training, models

Question: %s
Output:`

const paraphrasePromptFormat = `Generate 2 alternative phrasings of this question. Only output the questions, nothing else.

Question: %s

1.
2.`

// Analyzer extracts the query topic, concepts, and up to two paraphrases.
// With an empty knowledge base it stays token-based and never calls the LLM.
type Analyzer struct {
	log *logger.Logger
	llm ollama.Generator
}

func NewAnalyzer(log *logger.Logger, llm ollama.Generator) *Analyzer {
	return &Analyzer{log: log.With("service", "QUERY_ANALYZER"), llm: llm}
}

func (a *Analyzer) Analyze(ctx context.Context, query string, kbEmpty bool) types.QueryAnalysis {
	if kbEmpty {
		return types.QueryAnalysis{
			Topic:    tokenTopic(query),
			Concepts: catalog.ExtractConceptsFromText(query, 3),
		}
	}

	analysis := types.QueryAnalysis{}
	response, err := a.llm.Generate(ctx, fmt.Sprintf(analysisPromptFormat, query), ollama.GenerateOptions{
		MaxTokens:   50,
		Temperature: 0.0,
		Stop:        []string{"\n\n", "Question:", "Example"},
	})
	if err != nil {
		a.log.Warn("query analysis failed, using token fallback", "error", err)
	} else {
		analysis.Topic, analysis.Concepts = parseAnalysis(response)
	}
	if len(analysis.Topic) < 3 {
		analysis.Topic = tokenTopic(query)
	}
	if len(analysis.Concepts) == 0 {
		analysis.Concepts = catalog.ExtractConceptsFromText(query, 5)
	}
	analysis.Paraphrases = a.paraphrase(ctx, query)
	a.log.Info("query analyzed",
		"topic", analysis.Topic,
		"concepts", len(analysis.Concepts),
		"paraphrases", len(analysis.Paraphrases),
	)
	return analysis
}

func parseAnalysis(response string) (string, []string) {
	var topic string
	var concepts []string
	for _, part := range strings.Split(strings.TrimSpace(response), "|") {
		part = strings.TrimSpace(part)
		lower := strings.ToLower(part)
		switch {
		case strings.HasPrefix(lower, "topic:"):
			topic = catalog.CleanTopicResponse(strings.TrimSpace(part[len("topic:"):]))
		case strings.HasPrefix(lower, "concepts:"):
			for _, c := range strings.Split(part[len("concepts:"):], ",") {
				c = strings.ToLower(strings.TrimSpace(c))
				if c != "" {
					concepts = append(concepts, c)
				}
			}
		}
	}
	return topic, concepts
}

func tokenTopic(query string) string {
	words := strings.Fields(query)
	if len(words) > 2 {
		words = words[:2]
	}
	return catalog.TitleWords(strings.Join(words, " "))
}

var paraphraseSkipPhrases = []string{"here are", "alternative", "phrasings", "following", "rephrase"}

// paraphrase returns up to two alternative phrasings. Failures are silent;
// retrieval simply runs with the original query alone.
func (a *Analyzer) paraphrase(ctx context.Context, query string) []string {
	response, err := a.llm.Generate(ctx, fmt.Sprintf(paraphrasePromptFormat, query), ollama.GenerateOptions{
		MaxTokens:   100,
		Temperature: 0.1,
	})
	if err != nil {
		a.log.Warn("paraphrase generation failed", "error", err)
		return nil
	}
	var out []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || containsAny(strings.ToLower(line), paraphraseSkipPhrases) {
			continue
		}
		if len(line) > 2 && line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:3], ".") {
			line = strings.TrimSpace(strings.SplitN(line, ".", 2)[1])
		}
		line = strings.ReplaceAll(line, "**", "")
		line = strings.ReplaceAll(line, "*", "")
		if len(line) > 10 && !containsAny(strings.ToLower(line), paraphraseSkipPhrases) {
			out = append(out, line)
		}
		if len(out) == maxParaphrases {
			break
		}
	}
	return out
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
