package extract

import (
	"context"
	"fmt"

	"github.com/pondera-systems/pondera/core"
)

// MockExtractor is a test double for Extractor.
// It allows custom behavior injection via function fields.
type MockExtractor struct {
	// ExtractAudioFunc is called by ExtractAudio if set.
	ExtractAudioFunc func(ctx context.Context, mediaURL string) ([]core.Segment, error)

	// ExtractDocumentFunc is called by ExtractDocument if set.
	ExtractDocumentFunc func(ctx context.Context, content []byte, filename string) ([]core.Segment, error)

	callCount int
}

// NewMockExtractor creates a mock extractor with default deterministic
// behavior. Returns the concrete type to allow test assertions.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

// ExtractAudio returns a single synthetic transcript segment unless a custom
// function is injected.
func (m *MockExtractor) ExtractAudio(ctx context.Context, mediaURL string) ([]core.Segment, error) {
	m.callCount++

	if m.ExtractAudioFunc != nil {
		return m.ExtractAudioFunc(ctx, mediaURL)
	}

	return []core.Segment{
		{Text: fmt.Sprintf("transcript of %s", mediaURL)},
	}, nil
}

// ExtractDocument returns the document bytes as one text segment unless a
// custom function is injected.
func (m *MockExtractor) ExtractDocument(ctx context.Context, content []byte, filename string) ([]core.Segment, error) {
	m.callCount++

	if m.ExtractDocumentFunc != nil {
		return m.ExtractDocumentFunc(ctx, content, filename)
	}

	return []core.Segment{
		{Text: string(content), Section: "body"},
	}, nil
}

// CallCount returns the number of times any method was called.
func (m *MockExtractor) CallCount() int {
	return m.callCount
}

// Reset clears the call count and any injected behavior.
func (m *MockExtractor) Reset() {
	m.callCount = 0
	m.ExtractAudioFunc = nil
	m.ExtractDocumentFunc = nil
}
