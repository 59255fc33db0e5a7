package catalog

import (
	"regexp"
	"strings"
)

var topicStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {},
}

var conceptAbbreviations = map[string]string{
	"co2": "carbon dioxide",
	"o2":  "oxygen",
	"h2o": "water",
	"ai":  "artificial intelligence",
	"ml":  "machine learning",
	"rag": "retrieval augmented generation",
	"llm": "large language model",
	"gpu": "graphics processing unit",
}

var spaceRe = regexp.MustCompile(`\s+`)

// NormalizeTopic lowercases, collapses whitespace, and strips articles and
// common prepositions. When stripping would leave nothing, the collapsed form
// is returned so a stopword-only topic still compares equal to itself.
func NormalizeTopic(topic string) string {
	if topic == "" {
		return ""
	}
	normalized := spaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(topic)), " ")
	words := strings.Fields(normalized)
	filtered := words[:0]
	for _, w := range words {
		if _, stop := topicStopwords[w]; !stop {
			filtered = append(filtered, w)
		}
	}
	if len(filtered) == 0 {
		return normalized
	}
	return strings.Join(filtered, " ")
}

// NormalizeConcept lowercases and canonicalizes well-known abbreviations so
// that CO2 and "carbon dioxide" compare equal during gating.
func NormalizeConcept(concept string) string {
	normalized := strings.ToLower(strings.TrimSpace(concept))
	if full, ok := conceptAbbreviations[normalized]; ok {
		return full
	}
	return normalized
}

var topicPrefixRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^the\s+(main\s+)?topic\s+(is|of\s+this\s+document\s+is)\s*:?\s*`),
	regexp.MustCompile(`(?i)^topic\s*:?\s*`),
	regexp.MustCompile(`(?i)^this\s+document\s+(is\s+about|discusses|covers)\s*:?\s*`),
	regexp.MustCompile(`(?i)^main\s+subject\s*:?\s*`),
	regexp.MustCompile(`(?i)^subject\s*:?\s*`),
}

var (
	bracketRe       = regexp.MustCompile(`[\[\]\(\){}]`)
	trailingConcept = regexp.MustCompile(`\s+[Cc]oncepts?\s*:.*$`)
)

// CleanTopicResponse strips model verbosity from a topic extraction reply,
// keeping at most three title-cased words.
func CleanTopicResponse(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return ""
	}
	for _, re := range topicPrefixRes {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimLeft(cleaned, `"'`+"`")
	cleaned = strings.TrimRight(cleaned, `"'`+"`"+".!?,;:")
	cleaned = bracketRe.ReplaceAllString(cleaned, "")
	cleaned = spaceRe.ReplaceAllString(cleaned, " ")
	cleaned = trailingConcept.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	words := strings.Fields(cleaned)
	if len(words) > 3 {
		words = words[:3]
	}
	return TitleWords(strings.Join(words, " "))
}

// TitleWords capitalizes the first letter of each space-separated word.
func TitleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// TopicsMatch reports whether the query topic matches any catalog topic by
// exact comparison, substring in either direction, or token-set Jaccard
// similarity at or above threshold.
func TopicsMatch(queryTopic string, catalogTopics []string, threshold float64) bool {
	if queryTopic == "" || len(catalogTopics) == 0 {
		return false
	}
	queryNorm := NormalizeTopic(queryTopic)
	queryWords := tokenSet(queryNorm)
	for _, topic := range catalogTopics {
		docNorm := NormalizeTopic(topic)
		if docNorm == "" {
			continue
		}
		if queryNorm == docNorm {
			return true
		}
		if strings.Contains(docNorm, queryNorm) || strings.Contains(queryNorm, docNorm) {
			return true
		}
		if jaccard(queryWords, tokenSet(docNorm)) >= threshold {
			return true
		}
	}
	return false
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

var (
	questionWords = map[string]struct{}{
		"what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "who": {},
		"which": {}, "is": {}, "are": {}, "does": {}, "do": {}, "can": {},
		"will": {}, "would": {}, "should": {},
	}
	textStopwords = map[string]struct{}{
		"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
		"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
		"from": {}, "about": {}, "into": {}, "through": {}, "during": {},
		"before": {}, "after": {}, "above": {}, "below": {}, "between": {},
		"under": {}, "over": {},
	}
	wordRe = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)
)

// ExtractConceptsFromText pulls candidate concept words from free text,
// skipping stopwords and interrogatives, preserving first-seen order.
func ExtractConceptsFromText(text string, maxConcepts int) []string {
	if text == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var concepts []string
	for _, word := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := textStopwords[word]; stop {
			continue
		}
		if _, q := questionWords[word]; q {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		concepts = append(concepts, word)
		if len(concepts) >= maxConcepts {
			break
		}
	}
	return concepts
}
