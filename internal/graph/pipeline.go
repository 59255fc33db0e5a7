package graph

import (
	"context"
	"time"

	"github.com/plutolabs/pluto-backend/internal/catalog"
	"github.com/plutolabs/pluto-backend/internal/observability"
	"github.com/plutolabs/pluto-backend/internal/platform/ctxutil"
	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/types"
)

type PipelineConfig struct {
	DefaultTopK       int
	MaxTopK           int
	AvgScoreThreshold float64
	RequestTimeout    time.Duration
}

// Request is one query against a scope. Conversation carries prior turns;
// only the last three reach the generator.
type Request struct {
	Query        string
	ScopeID      string
	TopK         int
	Modalities   []types.Modality
	Conversation []types.Turn
}

// Pipeline runs the evidence-gated stages in order: analyze, gate, retrieve,
// grade, detect conflicts, generate. Refusals are values returned early;
// only infrastructure failures become errors.
type Pipeline struct {
	log       *logger.Logger
	catalogs  *catalog.Service
	analyzer  *Analyzer
	gate      *Gate
	retriever *Retriever
	grader    *Grader
	conflicts *ConflictDetector
	generator *Generator
	cfg       PipelineConfig
}

func NewPipeline(
	log *logger.Logger,
	catalogs *catalog.Service,
	analyzer *Analyzer,
	gate *Gate,
	retriever *Retriever,
	grader *Grader,
	conflicts *ConflictDetector,
	generator *Generator,
	cfg PipelineConfig,
) *Pipeline {
	return &Pipeline{
		log:       log.With("service", "QUERY_PIPELINE"),
		catalogs:  catalogs,
		analyzer:  analyzer,
		gate:      gate,
		retriever: retriever,
		grader:    grader,
		conflicts: conflicts,
		generator: generator,
		cfg:       cfg,
	}
}

func (p *Pipeline) Run(ctx context.Context, req Request) (*types.QueryResult, error) {
	ctx = ctxutil.Default(ctx)
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}
	topK := req.TopK
	if topK <= 0 {
		topK = p.cfg.DefaultTopK
	}
	if topK > p.cfg.MaxTopK {
		topK = p.cfg.MaxTopK
	}

	cat, err := p.catalogs.Build(ctx, req.ScopeID)
	if err != nil {
		p.log.Error("catalog lookup failed, failing closed", "scope_id", req.ScopeID, "error", err)
		return p.refuse(ctx, types.RefusalCompatibilityCheckFailed, req.Query), nil
	}

	analysis := p.analyzer.Analyze(ctx, req.Query, cat.Empty())

	decision := p.gate.Check(ctx, req.Query, analysis, cat)
	if !decision.Allowed {
		observability.Current().ObserveQueryOutcome(ctx, "refused", string(decision.Refusal.Reason))
		return &types.QueryResult{Refusal: decision.Refusal}, nil
	}

	queries := append([]string{req.Query}, analysis.Paraphrases...)
	retrieved, err := p.retriever.Retrieve(ctx, req.ScopeID, queries, topK, req.Modalities)
	if err != nil {
		if ctx.Err() != nil {
			return p.refuse(ctx, types.RefusalGenerationFailed, req.Query), nil
		}
		return nil, err
	}
	if len(retrieved) == 0 {
		return p.refuse(ctx, types.RefusalNoRetrievedDocuments, req.Query), nil
	}

	grading := p.grader.Grade(ctx, req.Query, retrieved)
	if !grading.IsSufficient {
		return p.refuse(ctx, grading.RefusalReasonFor(p.cfg.AvgScoreThreshold), req.Query), nil
	}

	conflicts := p.conflicts.Detect(ctx, req.Query, grading.Passed)

	answer, err := p.generator.Generate(ctx, GenerateInput{
		Query:        req.Query,
		Passed:       grading.Passed,
		Conflicts:    conflicts,
		Conversation: req.Conversation,
		Confidence:   clamp01(grading.AvgScore),
	})
	if err != nil {
		p.log.Error("generation failed", "scope_id", req.ScopeID, "error", err)
		return p.refuse(ctx, types.RefusalGenerationFailed, req.Query), nil
	}
	if !answer.IsGrounded {
		return p.refuse(ctx, types.RefusalGenerationFailed, req.Query), nil
	}

	observability.Current().ObserveQueryOutcome(ctx, "success", "")
	return &types.QueryResult{Answer: answer}, nil
}

func (p *Pipeline) refuse(ctx context.Context, reason types.RefusalReason, query string) *types.QueryResult {
	observability.Current().ObserveQueryOutcome(ctx, "refused", string(reason))
	return &types.QueryResult{Refusal: FormatRefusal(reason, query)}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
