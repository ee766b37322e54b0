package fallback

import "context"

// MockWebSearcher is a WebSearcher for tests.
type MockWebSearcher struct {
	SearchFunc func(ctx context.Context, query string) ([]WebResult, error)
	calls      int
}

var _ WebSearcher = (*MockWebSearcher)(nil)

// NewMockWebSearcher creates a mock returning one synthetic result.
func NewMockWebSearcher() *MockWebSearcher {
	return &MockWebSearcher{}
}

// Search returns synthetic results or delegates to SearchFunc.
func (m *MockWebSearcher) Search(ctx context.Context, query string) ([]WebResult, error) {
	m.calls++
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query)
	}
	return []WebResult{{
		Title:   "Mock result for " + query,
		URL:     "https://example.com/result",
		Snippet: "A synthetic web snippet about " + query,
		Domain:  "example.com",
		Score:   0.5,
	}}, nil
}

// CallCount returns how many searches were made.
func (m *MockWebSearcher) CallCount() int { return m.calls }
