package graph

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/ollama"
	"github.com/plutolabs/pluto-backend/internal/types"
)

const (
	conflictContentLimit = 1500
	conflictChunkLimit   = 5
)

const conflictSystemPrompt = `You are a conflict detection expert. Your task is to identify contradictory information between two evidence sources.

Respond ONLY in this exact format:
Conflict: [yes/no]
Description: [brief summary of the contradiction, or 'No conflict']

A conflict exists when the sources provide incompatible or contradictory answers to the same question.
Minor differences in detail are NOT conflicts unless they fundamentally contradict each other.
`

const conflictUserPromptFormat = `Question: %s

Source A (%s):
%s

Source B (%s):
%s

Do these sources provide contradictory information relevant to the question?
`

// ConflictDetector cross-references passed evidence for contradictions.
// It only ever changes generation mode; a failing check reads as no conflict.
type ConflictDetector struct {
	log *logger.Logger
	llm ollama.Generator
}

func NewConflictDetector(log *logger.Logger, llm ollama.Generator) *ConflictDetector {
	return &ConflictDetector{log: log.With("service", "CONFLICT_DETECTOR"), llm: llm}
}

// Detect examines each unordered cross-file pair among the first five chunks.
// Pairs from the same file are skipped.
func (d *ConflictDetector) Detect(ctx context.Context, query string, passed []types.RetrievedChunk) []string {
	if len(passed) < 2 {
		return nil
	}
	chunks := passed
	if len(chunks) > conflictChunkLimit {
		chunks = chunks[:conflictChunkLimit]
	}
	var conflicts []string
	for i := 0; i < len(chunks); i++ {
		for j := i + 1; j < len(chunks); j++ {
			if chunks[i].Chunk.FileName == chunks[j].Chunk.FileName {
				continue
			}
			if desc := d.checkPair(ctx, query, chunks[i].Chunk, chunks[j].Chunk); desc != "" {
				conflicts = append(conflicts, desc)
			}
		}
	}
	if len(conflicts) > 0 {
		d.log.Warn("conflicting evidence detected", "conflicts", len(conflicts))
	}
	return conflicts
}

func (d *ConflictDetector) checkPair(ctx context.Context, query string, a, b types.Chunk) string {
	prompt := conflictSystemPrompt + "\n\n" + fmt.Sprintf(conflictUserPromptFormat,
		query,
		a.FileName, truncate(a.Content, conflictContentLimit),
		b.FileName, truncate(b.Content, conflictContentLimit),
	)
	response, err := d.llm.Generate(ctx, prompt, ollama.GenerateOptions{
		MaxTokens:   150,
		Temperature: 0.1,
		Stop:        []string{"Question:", "Source A:", "Source B:"},
	})
	if err != nil {
		d.log.Warn("conflict check failed, assuming none", "error", err)
		return ""
	}

	var verdict, description string
	for _, line := range strings.Split(response, "\n") {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "conflict:") {
			verdict = lower
		} else if strings.HasPrefix(lower, "description:") {
			description = strings.TrimSpace(line[len("description:"):])
		}
	}
	if !strings.Contains(verdict, "yes") || description == "" {
		return ""
	}
	if strings.Contains(strings.ToLower(description), "no conflict") {
		return ""
	}
	return fmt.Sprintf("Conflict between %s and %s: %s", a.FileName, b.FileName, description)
}

// truncate cuts s to at most n bytes, backing up so a multibyte rune is
// never split at the cut point.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
