package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/plutolabs/pluto-backend/internal/catalog"
	"github.com/plutolabs/pluto-backend/internal/types"
)

func newTestPipeline(t *testing.T, llm *scriptedLLM, store *fakeSearchStore) *Pipeline {
	t.Helper()
	log := newTestLogger(t)
	return NewPipeline(
		log,
		catalog.NewService(log, store),
		NewAnalyzer(log, llm),
		NewGate(log, llm),
		NewRetriever(log, store, fakeQueryEmbedder{}, RetrieverConfig{SimilarityThreshold: 0.35, MMRLambda: 0.7}),
		NewGrader(log, llm, GraderConfig{PassThreshold: 0.5, AvgThreshold: 0.4}),
		NewConflictDetector(log, llm),
		NewGenerator(log, llm),
		PipelineConfig{DefaultTopK: 10, MaxTopK: 50, AvgScoreThreshold: 0.4},
	)
}

// happyRules scripts every stage of a successful photosynthesis query. Gate
// passage comes from concept overlap, so no semantic check rule is needed.
func happyRules() []llmRule {
	return []llmRule{
		{contains: "Extract the TOPIC", response: "Topic: Photosynthesis | Concepts: photosynthesis, plants"},
		{contains: "alternative phrasings", response: "1. How do plants create energy from light?"},
		{contains: "Is this document relevant", response: "YES"},
		{contains: "conflict detection expert", response: "Conflict: no\nDescription: No conflict"},
		{contains: "retrieval-grounded assistant", response: "Plants convert sunlight into chemical energy through photosynthesis."},
	}
}

func TestRunEmptyScopeRefusesBeforeRetrieval(t *testing.T) {
	llm := &scriptedLLM{}
	store := &fakeSearchStore{}
	p := newTestPipeline(t, llm, store)

	res, err := p.Run(context.Background(), Request{Query: "What is photosynthesis?", ScopeID: "s1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Refused() || res.Refusal.Reason != types.RefusalEmptyKnowledgeBase {
		t.Fatalf("want empty_knowledge_base refusal, got %+v", res)
	}
	if !strings.Contains(res.Refusal.Message, "No documents are uploaded") {
		t.Fatalf("message want upload guidance, got %q", res.Refusal.Message)
	}
	if store.searchReqs != 0 {
		t.Fatalf("refusal must short-circuit retrieval, saw %d searches", store.searchReqs)
	}
}

func TestRunCatalogFailureFailsClosed(t *testing.T) {
	llm := &scriptedLLM{rules: happyRules()}
	store := &fakeSearchStore{scrollErr: errors.New("scroll unavailable")}
	p := newTestPipeline(t, llm, store)

	res, err := p.Run(context.Background(), Request{Query: "What is photosynthesis?", ScopeID: "s1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Refused() || res.Refusal.Reason != types.RefusalCompatibilityCheckFailed {
		t.Fatalf("want compatibility_check_failed refusal, got %+v", res)
	}
	if !strings.Contains(res.Refusal.Message, "Unable to verify") {
		t.Fatalf("message want=Unable to verify... got %q", res.Refusal.Message)
	}
}

func TestRunGateDenialListsCatalogTopics(t *testing.T) {
	llm := &scriptedLLM{rules: []llmRule{
		{contains: "Extract the TOPIC", response: "Topic: Football History | Concepts: football, world cup"},
		{contains: "alternative phrasings", response: "1. Who won the world cup?"},
		{contains: "Query Topic belongs to the Knowledge Base", response: "NO"},
	}}
	store := &fakeSearchStore{}
	store.scrollOut = append(store.scrollOut, scrolledChunk("c1", "bio.txt", "Photosynthesis", "photosynthesis", "chlorophyll"))
	p := newTestPipeline(t, llm, store)

	res, err := p.Run(context.Background(), Request{Query: "Who won the 1998 world cup?", ScopeID: "s1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Refused() || res.Refusal.Reason != types.RefusalNoMatch {
		t.Fatalf("want no_match refusal, got %+v", res)
	}
	if !strings.Contains(res.Refusal.Message, "photosynthesis") {
		t.Fatalf("denial should list catalog contents, got %q", res.Refusal.Message)
	}
	if store.searchReqs != 0 {
		t.Fatalf("denied query must not reach retrieval, saw %d searches", store.searchReqs)
	}
}

func TestRunNoRetrievedDocuments(t *testing.T) {
	llm := &scriptedLLM{rules: happyRules()}
	store := &fakeSearchStore{}
	store.scrollOut = append(store.scrollOut, scrolledChunk("c1", "bio.txt", "Photosynthesis", "photosynthesis", "plants"))
	p := newTestPipeline(t, llm, store)

	res, err := p.Run(context.Background(), Request{Query: "What is photosynthesis?", ScopeID: "s1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Refused() || res.Refusal.Reason != types.RefusalNoRetrievedDocuments {
		t.Fatalf("want no_retrieved_documents refusal, got %+v", res)
	}
}

func TestRunTopicDriftFromFailingGrades(t *testing.T) {
	// One passing grade keeps the set non-empty while the failing grades
	// drag the average below the routing threshold.
	llm := &scriptedLLM{rules: []llmRule{
		{contains: "Extract the TOPIC", response: "Topic: Photosynthesis | Concepts: photosynthesis, plants"},
		{contains: "alternative phrasings", response: "1. How do plants create energy from light?"},
		{contains: "Photosynthesis converts sunlight", response: "YES"},
		{contains: "Is this document relevant", response: "NO"},
	}}
	store := &fakeSearchStore{}
	store.scrollOut = append(store.scrollOut, scrolledChunk("c1", "bio.txt", "Photosynthesis", "photosynthesis", "plants"))
	store.matches = append(store.matches,
		textMatch("a", "bio.txt", "Photosynthesis converts sunlight into energy.", 0.9),
		textMatch("b", "bio.txt", "Football was first codified in England.", 0.6),
		textMatch("c", "bio.txt", "The offside rule changed in 1925.", 0.55),
	)
	p := newTestPipeline(t, llm, store)

	res, err := p.Run(context.Background(), Request{Query: "What is photosynthesis?", ScopeID: "s1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Refused() || res.Refusal.Reason != types.RefusalTopicDrift {
		t.Fatalf("want topic_drift refusal, got %+v", res)
	}
}

func TestRunHappyPath(t *testing.T) {
	llm := &scriptedLLM{rules: happyRules()}
	store := &fakeSearchStore{}
	store.scrollOut = append(store.scrollOut, scrolledChunk("c1", "bio.txt", "Photosynthesis", "photosynthesis", "plants"))
	store.matches = append(store.matches,
		textMatch("a", "bio.txt", "Photosynthesis converts sunlight into chemical energy.", 0.92),
		textMatch("b", "bio.txt", "Chlorophyll absorbs red and blue light.", 0.81),
	)
	p := newTestPipeline(t, llm, store)

	res, err := p.Run(context.Background(), Request{Query: "What is photosynthesis?", ScopeID: "s1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Refused() {
		t.Fatalf("want answer, got refusal %+v", res.Refusal)
	}
	if !res.Answer.IsGrounded {
		t.Fatalf("is_grounded want=true got=false")
	}
	if res.Answer.IsConflicting {
		t.Fatalf("is_conflicting want=false got=true")
	}
	if !strings.Contains(res.Answer.Text, "[bio.txt]") {
		t.Fatalf("answer should cite bio.txt, got %q", res.Answer.Text)
	}
	if len(res.Answer.UsedChunkIDs) != 2 {
		t.Fatalf("used_chunk_ids want=2 got=%v", res.Answer.UsedChunkIDs)
	}
	if res.Answer.Confidence < 0.89 || res.Answer.Confidence > 0.91 {
		t.Fatalf("confidence want~0.9 got=%v", res.Answer.Confidence)
	}
	// original query plus one paraphrase
	if store.searchReqs != 2 {
		t.Fatalf("search requests want=2 got=%d", store.searchReqs)
	}
}

func TestRunConflictingEvidenceStaysAnswerable(t *testing.T) {
	llm := &scriptedLLM{rules: []llmRule{
		{contains: "Extract the TOPIC", response: "Topic: Ruritania | Concepts: ruritania, capital"},
		{contains: "alternative phrasings", response: "1. Which city is Ruritania's capital?"},
		{contains: "Is this document relevant", response: "YES"},
		{contains: "conflict detection expert", response: "Conflict: yes\nDescription: the sources name different capitals"},
		{contains: "CONFLICTING information", response: "The evidence disagrees. fileA.txt names Arcadia while fileB.txt names Borogove."},
	}}
	store := &fakeSearchStore{}
	store.scrollOut = append(store.scrollOut, scrolledChunk("c1", "fileA.txt", "Ruritania", "ruritania", "capital"))
	store.matches = append(store.matches,
		textMatch("a", "fileA.txt", "The capital of Ruritania is Arcadia.", 0.9),
		textMatch("b", "fileB.txt", "The capital of Ruritania is Borogove.", 0.85),
	)
	p := newTestPipeline(t, llm, store)

	res, err := p.Run(context.Background(), Request{Query: "What is the capital of Ruritania?", ScopeID: "s1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Refused() {
		t.Fatalf("conflicting evidence should still answer, got refusal %+v", res.Refusal)
	}
	if !res.Answer.IsConflicting {
		t.Fatalf("is_conflicting want=true got=false")
	}
	if !strings.Contains(res.Answer.Text, "Arcadia") || !strings.Contains(res.Answer.Text, "Borogove") {
		t.Fatalf("answer should surface both sides, got %q", res.Answer.Text)
	}
}

func TestRunUngroundedAnswerRefuses(t *testing.T) {
	rules := happyRules()
	rules[4] = llmRule{contains: "retrieval-grounded assistant", response: "I think plants generally use some kind of light."}
	llm := &scriptedLLM{rules: rules}
	store := &fakeSearchStore{}
	store.scrollOut = append(store.scrollOut, scrolledChunk("c1", "bio.txt", "Photosynthesis", "photosynthesis", "plants"))
	store.matches = append(store.matches,
		textMatch("a", "bio.txt", "Photosynthesis converts sunlight into chemical energy.", 0.92),
	)
	p := newTestPipeline(t, llm, store)

	res, err := p.Run(context.Background(), Request{Query: "What is photosynthesis?", ScopeID: "s1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Refused() || res.Refusal.Reason != types.RefusalGenerationFailed {
		t.Fatalf("want generation_failed refusal, got %+v", res)
	}
	if !strings.Contains(res.Refusal.Message, "error occurred during response generation") {
		t.Fatalf("message want generation failure template, got %q", res.Refusal.Message)
	}
}
