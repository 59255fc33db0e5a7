package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/ollama"
	"github.com/plutolabs/pluto-backend/internal/types"
)

const (
	gradeContentLimit = 2000
	scoreRelevant     = 0.9
	scoreIrrelevant   = 0.0
	scoreUnknown      = 0.5
)

const gradePromptFormat = `Task: Is this document relevant to the question?
Question: %s
Document: %s
Respond with only 'YES' or 'NO'.`

type GraderConfig struct {
	PassThreshold float64
	AvgThreshold  float64
}

// Grading holds the per-chunk relevance verdicts and the routing aggregate.
type Grading struct {
	Passed       []types.RetrievedChunk
	AvgScore     float64
	IsSufficient bool
}

// Grader asks the LLM for a strict YES/NO relevance verdict per chunk. An
// LLM failure scores neutral rather than failing the query.
type Grader struct {
	log *logger.Logger
	llm ollama.Generator
	cfg GraderConfig
}

func NewGrader(log *logger.Logger, llm ollama.Generator, cfg GraderConfig) *Grader {
	return &Grader{log: log.With("service", "GRADER"), llm: llm, cfg: cfg}
}

func (g *Grader) Grade(ctx context.Context, query string, retrieved []types.RetrievedChunk) Grading {
	if len(retrieved) == 0 {
		return Grading{}
	}
	var total float64
	var passed []types.RetrievedChunk
	for _, rc := range retrieved {
		score := g.gradeOne(ctx, query, rc)
		total += score
		if score >= g.cfg.PassThreshold {
			passed = append(passed, rc)
		}
	}
	avg := total / float64(len(retrieved))
	grading := Grading{
		Passed:       passed,
		AvgScore:     avg,
		IsSufficient: len(passed) >= 1 && avg >= g.cfg.AvgThreshold,
	}
	g.log.Info("evidence graded",
		"retrieved", len(retrieved),
		"passed", len(passed),
		"avg_score", fmt.Sprintf("%.2f", avg),
		"sufficient", grading.IsSufficient,
	)
	return grading
}

func (g *Grader) gradeOne(ctx context.Context, query string, rc types.RetrievedChunk) float64 {
	content := truncate(rc.Chunk.Content, gradeContentLimit)
	response, err := g.llm.Generate(ctx, fmt.Sprintf(gradePromptFormat, query, content), ollama.GenerateOptions{
		MaxTokens:   5,
		Temperature: 0.0,
	})
	if err != nil {
		g.log.Warn("grading failed, scoring neutral", "chunk_id", rc.Chunk.ID, "error", err)
		return scoreUnknown
	}
	if strings.Contains(strings.ToUpper(response), "YES") {
		return scoreRelevant
	}
	return scoreIrrelevant
}

// RefusalReasonFor maps an insufficient grading to its refusal reason:
// topic_drift when something passed but the average stayed low, otherwise
// insufficient_evidence.
func (gr Grading) RefusalReasonFor(avgThreshold float64) types.RefusalReason {
	if len(gr.Passed) > 0 && gr.AvgScore < avgThreshold {
		return types.RefusalTopicDrift
	}
	return types.RefusalInsufficientEvidence
}
