package graph

import (
	"fmt"

	"github.com/plutolabs/pluto-backend/internal/types"
)

const (
	compatibilityCheckFailedMessage = "Unable to verify if your question is within the scope of uploaded documents. Please try rephrasing or check document content."
	generationFailedMessage         = "An error occurred during response generation. Please try again."
)

// FormatRefusal renders the fixed user-facing template for a refusal reason.
// Gate denials arrive pre-formatted with the catalog snapshot; this covers
// the downstream reasons.
func FormatRefusal(reason types.RefusalReason, query string) *types.Refusal {
	var message string
	switch reason {
	case types.RefusalEmptyKnowledgeBase:
		message = emptyKnowledgeBaseMessage
	case types.RefusalCompatibilityCheckFailed:
		message = compatibilityCheckFailedMessage
	case types.RefusalGenerationFailed:
		message = generationFailedMessage
	case types.RefusalTopicDrift:
		message = fmt.Sprintf(
			"I cannot answer the question: '%s'.\n\n"+
				"Reason: The retrieved evidence drifts from your question's topic.\n"+
				"Suggestion: Please verify that relevant documents are uploaded.", query)
	case types.RefusalNoRetrievedDocuments, types.RefusalInsufficientEvidence:
		fallthrough
	default:
		message = fmt.Sprintf(
			"I cannot answer the question: '%s'.\n\n"+
				"Reason: No supporting evidence was found in the knowledge base.\n"+
				"Suggestion: Please verify that relevant documents are uploaded.", query)
	}
	return &types.Refusal{Reason: reason, Message: message}
}
