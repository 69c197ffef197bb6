package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/retriever"

	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

const NoResultsMessage = "No relevant information found in the knowledge base."

// Searcher turns retriever output into the text handed back to the agent.
type Searcher struct {
	retriever retriever.Retriever
	topK      int
}

func NewSearcher(r retriever.Retriever, topK int) *Searcher {
	if topK <= 0 {
		topK = 2
	}
	return &Searcher{retriever: r, topK: topK}
}

// Search joins the top passages with a blank line. Retriever failures are
// reported in the returned text, never as an error.
func (s *Searcher) Search(ctx context.Context, query string) string {
	docs, err := s.retriever.Retrieve(ctx, query, retriever.WithTopK(s.topK))
	if err != nil {
		logx.Warn().Err(err).Str("query", query).Msg("Knowledge base query failed")
		return fmt.Sprintf("Error querying knowledge base: %v", err)
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d == nil || strings.TrimSpace(d.Content) == "" {
			continue
		}
		parts = append(parts, d.Content)
	}
	if len(parts) == 0 {
		return NoResultsMessage
	}
	return strings.Join(parts, "\n\n")
}

// InteractionQuery phrases a two-drug interaction question for Search.
func InteractionQuery(medicineOne, medicineTwo string) string {
	return fmt.Sprintf("Is there a drug interaction between %s and %s?", strings.TrimSpace(medicineOne), strings.TrimSpace(medicineTwo))
}
