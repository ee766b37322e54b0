package retrieval

import "github.com/pondera-systems/pondera/core"

// QueryMonitor provides hooks to observe the query pipeline.
// Implement this interface to track intermediate stages during retrieval.
type QueryMonitor interface {
	Start(query string)
	AfterEmbedding(dimension int)
	AfterVectorSearch(hits []*core.SearchHit)
	AfterGrouping(candidates []Candidate)
	Disambiguation(candidates []Candidate)
	PassageIncluded(p Passage)
	PassageDropped(chunkID string, reason string)
	Finish(qc *QueryContext)
}

// noopMonitor is a no-op implementation of QueryMonitor
type noopMonitor struct{}

var _ QueryMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                       {}
func (n *noopMonitor) AfterEmbedding(_ int)                 {}
func (n *noopMonitor) AfterVectorSearch(_ []*core.SearchHit) {}
func (n *noopMonitor) AfterGrouping(_ []Candidate)          {}
func (n *noopMonitor) Disambiguation(_ []Candidate)         {}
func (n *noopMonitor) PassageIncluded(_ Passage)            {}
func (n *noopMonitor) PassageDropped(_ string, _ string)    {}
func (n *noopMonitor) Finish(_ *QueryContext)               {}
