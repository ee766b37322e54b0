// Copyright 2026 Pondera Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pondera-systems/pondera/core"
)

// DefaultBaseURL is the Tavily search endpoint.
const DefaultBaseURL = "https://api.tavily.com/search"

const defaultMaxResults = 5

// WebResult is one cleaned web search hit.
type WebResult struct {
	Title   string
	URL     string
	Snippet string
	Content string
	Domain  string
	Score   float32
}

// WebSearcher performs a web search and returns ranked snippets.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]WebResult, error)
}

// Client is a Tavily-backed WebSearcher.
type Client struct {
	baseURL    string
	apiKey     string
	maxResults int
	depth      string
	http       *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		if httpClient != nil {
			c.http = httpClient
		}
		return nil
	}
}

// WithBaseURL overrides the search endpoint. Useful in tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) error {
		c.baseURL = baseURL
		return nil
	}
}

// WithMaxResults sets how many web results to request. Default 5.
func WithMaxResults(maxResults int) ClientOption {
	return func(c *Client) error {
		if maxResults > 0 {
			c.maxResults = maxResults
		}
		return nil
	}
}

// WithSearchDepth sets the provider search depth, "basic" or "advanced".
func WithSearchDepth(depth string) ClientOption {
	return func(c *Client) error {
		if depth != "" {
			c.depth = depth
		}
		return nil
	}
}

// WithTimeout bounds each search request. Default 30s.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.http.Timeout = d
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewClient creates a web search client. An empty API key is allowed;
// searches then fail with core.ErrProviderUnavailable and the
// coordinator degrades gracefully.
func NewClient(apiKey string, opts ...ClientOption) (WebSearcher, error) {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		maxResults: defaultMaxResults,
		depth:      "basic",
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default().With("component", "websearch"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type searchRequest struct {
	APIKey         string `json:"api_key"`
	Query          string `json:"query"`
	SearchDepth    string `json:"search_depth"`
	IncludeAnswer  bool   `json:"include_answer"`
	IncludeRawBody bool   `json:"include_raw_content"`
	MaxResults     int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Snippet string  `json:"snippet"`
		Score   float32 `json:"score"`
	} `json:"results"`
}

// Search queries the provider once, with a single retry on transient
// transport failures.
func (c *Client) Search(ctx context.Context, query string) ([]WebResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("web search: %w: no API key configured", core.ErrProviderUnavailable)
	}

	results, err := c.searchOnce(ctx, query)
	if err != nil && core.IsTransient(err) && ctx.Err() == nil {
		c.logger.Warn("web search transient failure, retrying once", "err", err)
		results, err = c.searchOnce(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) searchOnce(ctx context.Context, query string) ([]WebResult, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:         c.apiKey,
		Query:          query,
		SearchDepth:    c.depth,
		IncludeAnswer:  true,
		IncludeRawBody: false,
		MaxResults:     c.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, core.Transient(fmt.Errorf("web search request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, core.Transient(fmt.Errorf("web search: status %d", resp.StatusCode))
		}
		return nil, fmt.Errorf("web search: status %d: %w", resp.StatusCode, core.ErrProviderUnavailable)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]WebResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, WebResult{
			Title:   cleanText(r.Title),
			URL:     r.URL,
			Snippet: cleanText(r.Snippet),
			Content: cleanText(r.Content),
			Domain:  extractDomain(r.URL),
			Score:   r.Score,
		})
	}
	return results, nil
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// cleanText strips HTML tags and collapses whitespace in provider
// snippets.
func cleanText(text string) string {
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func extractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return strings.ToLower(parsed.Host)
}
