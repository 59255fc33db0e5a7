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
	generationMaxTokens  = 400
	evidenceChunkLimit   = 5
	evidenceContentLimit = 300
	historyTurnLimit     = 3
	historyResponseLimit = 200
)

var generationStopSequences = []string{"\n\nEvidence", "\n\nUser Question", "Answer:", "\n\n\n"}

var hedgingPhrases = []string{
	"i think", "i believe", "in my opinion", "generally speaking",
	"as everyone knows", "typically", "i would assume",
}

// Generator produces the final answer with exactly one LLM call, then
// post-processes it: duplicate sentences removed, citations appended, and a
// hedging-phrase check deciding groundedness.
type Generator struct {
	log *logger.Logger
	llm ollama.Generator
}

func NewGenerator(log *logger.Logger, llm ollama.Generator) *Generator {
	return &Generator{log: log.With("service", "GENERATOR"), llm: llm}
}

type GenerateInput struct {
	Query        string
	Passed       []types.RetrievedChunk
	Conflicts    []string
	Conversation []types.Turn
	Confidence   float64
}

func (g *Generator) Generate(ctx context.Context, in GenerateInput) (*types.Answer, error) {
	var prompt string
	if len(in.Conflicts) > 0 {
		prompt = buildConflictAwarePrompt(in)
	} else {
		prompt = buildGroundedPrompt(in)
	}
	raw, err := g.llm.Generate(ctx, prompt, ollama.GenerateOptions{
		MaxTokens:   generationMaxTokens,
		Temperature: 0.1,
		Stop:        generationStopSequences,
	})
	if err != nil {
		return nil, fmt.Errorf("answer generation: %w", err)
	}
	text := strings.Trim(strings.TrimSpace(raw), `"'`)
	text = removeDuplicateSentences(text)
	if text == "" {
		return nil, fmt.Errorf("answer generation: model returned empty text")
	}

	grounded := !containsAny(strings.ToLower(text), hedgingPhrases)
	if !grounded {
		g.log.Warn("answer failed grounding check", "query", in.Query)
	}
	citations, chunkIDs := citationsFor(in.Passed)
	text += citationSuffix(in.Passed)

	return &types.Answer{
		Text:          text,
		Citations:     citations,
		UsedChunkIDs:  chunkIDs,
		IsGrounded:    grounded,
		IsConflicting: len(in.Conflicts) > 0,
		Confidence:    in.Confidence,
	}, nil
}

func conversationContext(turns []types.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > historyTurnLimit {
		turns = turns[len(turns)-historyTurnLimit:]
	}
	var b strings.Builder
	b.WriteString("Previous Conversation:\n")
	for _, turn := range turns {
		response := truncate(turn.Response, historyResponseLimit)
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n\n", turn.Query, response)
	}
	b.WriteString("---\n\n")
	return b.String()
}

func buildGroundedPrompt(in GenerateInput) string {
	var parts []string
	for i, rc := range topChunks(in.Passed) {
		if rc.Chunk.Content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("Evidence %d: %s", i+1, truncate(rc.Chunk.Content, evidenceContentLimit)))
	}
	evidence := "No evidence available."
	if len(parts) > 0 {
		evidence = strings.Join(parts, "\n\n")
	}
	return fmt.Sprintf(`You are a retrieval-grounded assistant.
Answer ONLY using the provided evidence.
If evidence exists, you MUST answer.
Return ONE concise plain-text answer.
Do NOT repeat sentences.
Do NOT output JSON or lists.
Do NOT mention sources or files.

%sEvidence:
%s

User Question: %s

Answer (plain text only, no repetition):`, conversationContext(in.Conversation), evidence, in.Query)
}

func buildConflictAwarePrompt(in GenerateInput) string {
	var parts []string
	for i, rc := range topChunks(in.Passed) {
		if rc.Chunk.Content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("Source %d (%s): %s",
			i+1, rc.Chunk.FileName, truncate(rc.Chunk.Content, evidenceContentLimit)))
	}
	conflictLines := make([]string, 0, len(in.Conflicts))
	for _, c := range in.Conflicts {
		conflictLines = append(conflictLines, "- "+c)
	}
	return fmt.Sprintf(`You are a retrieval-grounded assistant trained to acknowledge contradictions.

The evidence contains CONFLICTING information:
%s

%sEvidence from multiple sources:
%s

User Question: %s

INSTRUCTIONS:
Since there are contradictions, you MUST present both perspectives.
Use this EXACT format:

"There is a conflict in the evidence. [Source A name] indicates [perspective A], whereas [Source B name] suggests [perspective B]. Based on the available evidence, [provide your reasoned assessment if possible, or state that more information is needed]."

Answer (acknowledge conflict, present both sides):`,
		strings.Join(conflictLines, "\n"),
		conversationContext(in.Conversation),
		strings.Join(parts, "\n\n"),
		in.Query)
}

func topChunks(passed []types.RetrievedChunk) []types.RetrievedChunk {
	if len(passed) > evidenceChunkLimit {
		return passed[:evidenceChunkLimit]
	}
	return passed
}

// removeDuplicateSentences drops case-insensitive repeats, a common failure
// mode of small local models.
func removeDuplicateSentences(text string) string {
	sentences := strings.Split(text, ".")
	seen := make(map[string]struct{})
	var unique []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, s)
	}
	if len(unique) == 0 {
		return ""
	}
	return strings.Join(unique, ". ") + "."
}

// citationsFor builds structured citations plus the chunk ids actually
// offered to the model.
func citationsFor(passed []types.RetrievedChunk) ([]types.Citation, []string) {
	var citations []types.Citation
	var chunkIDs []string
	seen := make(map[string]struct{})
	for _, rc := range topChunks(passed) {
		chunkIDs = append(chunkIDs, rc.Chunk.ID)
		key := citationKey(rc.Chunk)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		citations = append(citations, types.Citation{
			File:     rc.Chunk.FileName,
			Page:     rc.Chunk.PageNumber,
			Modality: rc.Chunk.Modality,
			Score:    rc.Score,
		})
	}
	return citations, chunkIDs
}

// citationSuffix renders the bracketed source list appended to the answer.
func citationSuffix(passed []types.RetrievedChunk) string {
	var labels []string
	seen := make(map[string]struct{})
	for _, rc := range topChunks(passed) {
		if rc.Chunk.FileName == "" {
			continue
		}
		label := citationKey(rc.Chunk)
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return ""
	}
	return " [" + strings.Join(labels, "; ") + "]"
}

func citationKey(c types.Chunk) string {
	if c.PageNumber > 0 {
		return fmt.Sprintf("%s, Page %d", c.FileName, c.PageNumber)
	}
	return c.FileName
}
