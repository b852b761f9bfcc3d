package composer

import (
	"strings"

	"github.com/kalambet/prodqa/internal/document"
)

const (
	defaultMaxContextTokens = 4000

	// Separator sits between consecutive documents in the context block.
	Separator = "\n\n---\n\n"
)

const promptTemplate = `Use ONLY the following product information to answer the question.
If the answer is not in the context, say you don't know.

CONTEXT:
{context}

QUESTION:
{query}

ANSWER:`

// Composer assembles the generator prompt from ranked documents and the
// user's question.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Fit returns how many leading documents fit the token budget, separators
// included. Ranking order is kept: once a document does not fit, nothing
// ranked below it is used either. The top document always counts.
func (c *Composer) Fit(docs []document.Document) int {
	if len(docs) == 0 {
		return 0
	}
	sepTokens := EstimateTokens(Separator)
	used := EstimateTokens(docs[0].Content)
	for i := 1; i < len(docs); i++ {
		used += sepTokens + EstimateTokens(docs[i].Content)
		if used > c.MaxContextTokens {
			return i
		}
	}
	return len(docs)
}

// BuildContext joins the documents that Fit, best first, with Separator.
func (c *Composer) BuildContext(docs []document.Document) string {
	n := c.Fit(docs)
	parts := make([]string, n)
	for i, d := range docs[:n] {
		parts[i] = d.Content
	}
	return strings.Join(parts, Separator)
}

// Prompt renders the answer instruction around context and query.
func Prompt(context, query string) string {
	r := strings.NewReplacer("{context}", context, "{query}", query)
	return r.Replace(promptTemplate)
}

// Compose is BuildContext followed by Prompt.
func (c *Composer) Compose(docs []document.Document, query string) string {
	return Prompt(c.BuildContext(docs), query)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
