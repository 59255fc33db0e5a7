package ingest

import (
	"context"
	"regexp"
	"strings"

	"github.com/plutolabs/pluto-backend/internal/types"
)

const (
	textChunkSize    = 1200
	textChunkOverlap = 150
	minChunkLength   = 20
)

var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".html": {}, ".htm": {}, ".json": {}, ".xml": {}, ".csv": {},
}

// TextProducer chunks plain-text formats by character windows with overlap,
// preferring to break on sentence or whitespace boundaries.
type TextProducer struct{}

func NewTextProducer() *TextProducer { return &TextProducer{} }

func (p *TextProducer) Match(ext string) bool {
	_, ok := textExtensions[ext]
	return ok
}

func (p *TextProducer) Produce(_ context.Context, file File) ([]RawChunk, error) {
	text := string(file.Data)
	if file.Ext() == ".html" || file.Ext() == ".htm" {
		text = stripHTML(text)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var chunks []RawChunk
	for _, piece := range splitText(text, textChunkSize, textChunkOverlap) {
		if len(piece) < minChunkLength {
			continue
		}
		chunks = append(chunks, RawChunk{Modality: types.ModalityText, Content: piece})
	}
	return chunks, nil
}

// splitText walks the text in fixed windows, backing up to the last sentence
// end or space inside the window so words stay whole.
func splitText(text string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}
	var pieces []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			pieces = append(pieces, strings.TrimSpace(text[start:]))
			break
		}
		cut := end
		if idx := lastBoundary(text[start:end]); idx > size/2 {
			cut = start + idx
		}
		pieces = append(pieces, strings.TrimSpace(text[start:cut]))
		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return pieces
}

func lastBoundary(window string) int {
	for i := len(window) - 1; i > 0; i-- {
		switch window[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return strings.LastIndexByte(window, ' ')
}

var (
	htmlTagRe     = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlMarkupRe  = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	htmlEntityRep = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`)
)

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = htmlMarkupRe.ReplaceAllString(s, " ")
	s = htmlEntityRep.Replace(s)
	return whitespaceRe.ReplaceAllString(s, " ")
}
