package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pondera-systems/pondera/core"
)

// maxResponseSize caps how much of an extraction response is read into
// memory. Transcripts of multi-hour recordings stay well under this.
const maxResponseSize = 64 * 1024 * 1024

// Client talks to an extraction service over HTTP.
type Client struct {
	host   string
	apiKey string
	http   *http.Client
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Useful in tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// NewClient creates an extraction service client for the given host.
//
// Returns the Extractor interface to enforce abstraction.
func NewClient(host string, opts ...ClientOption) Extractor {
	c := &Client{
		host:   host,
		http:   &http.Client{Timeout: 90 * time.Second},
		logger: slog.Default().With("component", "extract-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type audioRequest struct {
	MediaURL string `json:"media_url"`
}

type documentRequest struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"` // base64 on the wire
}

type segmentResponse struct {
	Text         string  `json:"text"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Section      string  `json:"section"`
}

type extractResponse struct {
	Segments []segmentResponse `json:"segments"`
	Error    string            `json:"error"`
}

// ExtractAudio transcribes the audio found at mediaURL.
func (c *Client) ExtractAudio(ctx context.Context, mediaURL string) ([]core.Segment, error) {
	c.logger.Debug("requesting audio extraction", "media_url", mediaURL)
	return c.post(ctx, "/v1/extract/audio", audioRequest{MediaURL: mediaURL})
}

// ExtractDocument converts an uploaded document into text segments.
func (c *Client) ExtractDocument(ctx context.Context, content []byte, filename string) ([]core.Segment, error) {
	c.logger.Debug("requesting document extraction", "filename", filename, "bytes", len(content))
	return c.post(ctx, "/v1/extract/document", documentRequest{Filename: filename, Content: content})
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]core.Segment, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("extraction request failed", "path", path, "err", err)
		return nil, core.Transient(fmt.Errorf("extraction service: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, core.Transient(fmt.Errorf("read extraction response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, data)
	}

	var parsed extractResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}

	segments := make([]core.Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		segments = append(segments, core.Segment{
			Text:    s.Text,
			Start:   time.Duration(s.StartSeconds * float64(time.Second)),
			End:     time.Duration(s.EndSeconds * float64(time.Second)),
			Section: s.Section,
		})
	}

	c.logger.Debug("extraction complete", "path", path, "segments", len(segments))
	return segments, nil
}

// classifyStatus maps an HTTP error status to the retry taxonomy. Client
// errors mean the content itself cannot be processed; everything else is
// assumed to be a service-side problem worth retrying.
func classifyStatus(status int, body []byte) error {
	var parsed extractResponse
	reason := http.StatusText(status)
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		reason = parsed.Error
	}

	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return core.Malformed(fmt.Sprintf("extraction rejected (%d): %s", status, reason))
	}
	return core.Transient(fmt.Errorf("extraction service returned %d: %s", status, reason))
}
