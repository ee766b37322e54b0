package retrieval

import "github.com/pondera-systems/pondera/core"

// Outcome classifies how a query was resolved.
type Outcome string

const (
	// OutcomeAnswered means the knowledge base held enough relevant
	// material to answer directly.
	OutcomeAnswered Outcome = "answered-from-kb"

	// OutcomeNeedsDisambiguation means the query matched more distinct
	// items than the configured maximum; the caller should present the
	// candidates and re-query with an item filter.
	OutcomeNeedsDisambiguation Outcome = "needs-disambiguation"

	// OutcomeInsufficientKB means nothing in the knowledge base cleared
	// the relevance threshold; a web fallback may fill the gap.
	OutcomeInsufficientKB Outcome = "insufficient-kb"
)

// Attribution records where a passage came from.
type Attribution string

const (
	AttributionKnowledgeBase Attribution = "knowledge-base"
	AttributionWeb           Attribution = "web"
)

// Passage is one unit of assembled context. Chunks are included whole;
// a passage is never a fragment of a chunk.
type Passage struct {
	Text        string
	Score       float32
	Attribution Attribution
	ItemID      string
	ItemTitle   string
	SourceID    string
	Section     string
	URL         string // web passages only
	Tokens      int
}

// Candidate is one distinct item competing for a disambiguation choice.
type Candidate struct {
	ItemID   string
	Title    string
	TopScore float32
	Hits     int
}

// QueryContext is the full result of one query pass. It is transient:
// nothing in it is persisted.
type QueryContext struct {
	Query      string
	Embedding  []float32
	Hits       []*core.SearchHit
	Outcome    Outcome
	Candidates []Candidate
	Passages   []Passage

	// Truncated is set when the query deadline expired mid-pipeline and
	// the context holds only the stages that finished in time.
	Truncated bool

	// Note carries a human-readable degradation notice, e.g. when the
	// web fallback provider was unavailable.
	Note string
}

// TotalTokens sums the token counts of the assembled passages.
func (qc *QueryContext) TotalTokens() int {
	total := 0
	for _, p := range qc.Passages {
		total += p.Tokens
	}
	return total
}
