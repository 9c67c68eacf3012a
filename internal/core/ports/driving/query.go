package driving

import (
	"context"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// QueryService answers a user's question from the permission-trimmed corpus.
type QueryService interface {
	// AnswerQuery resolves the user's groups, retrieves eligible chunks and
	// synthesizes a cited answer. The result is always one of: a cited
	// answer, the fixed fallback, or the sensitive-topic redirect. Raw
	// errors never reach the asker.
	AnswerQuery(ctx context.Context, userID, question string) (*domain.RetrievalResult, error)

	// VisibleTitles returns the distinct document titles a user can retrieve
	// for a probe query. Used by the permission validation command.
	VisibleTitles(ctx context.Context, userID, probe string) ([]string, error)
}
