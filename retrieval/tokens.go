package retrieval

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text against the context token budget.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter approximates token counts as len(text)/4, the usual
// English-text rule of thumb. It never undercounts to zero for
// non-empty text.
type HeuristicCounter struct{}

// Count returns the approximate token count.
func (HeuristicCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// TiktokenCounter counts tokens with a real BPE encoding. Use this when
// the assembled context feeds a model whose tokenizer is known.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for the named encoding,
// e.g. "cl100k_base".
func NewTiktokenCounter(encodingName string) (*TiktokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("loading encoding %s: %w", encodingName, err)
	}
	return &TiktokenCounter{encoding: encoding}, nil
}

// Count returns the exact token count under the configured encoding.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}
