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


package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/pondera-systems/pondera/core"
)

// ParsedFeed is the result of fetching and parsing one podcast feed.
type ParsedFeed struct {
	Title       string
	Description string
	Entries     []FeedEntry
}

// FeedEntry is one episode found in a feed.
type FeedEntry struct {
	GUID        string
	Title       string
	MediaURL    string
	PublishedAt time.Time
}

// FeedFetcher retrieves and parses podcast feeds.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) (*ParsedFeed, error)
}

// feedFetcher implements FeedFetcher on gofeed.
type feedFetcher struct {
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewFeedFetcher creates a FeedFetcher backed by gofeed.
func NewFeedFetcher() FeedFetcher {
	return &feedFetcher{
		parser: gofeed.NewParser(),
		logger: slog.Default().With("component", "feed-fetcher"),
	}
}

// Fetch retrieves the feed and maps its entries. Unreachable hosts are
// transient; a feed that fetches but does not parse is malformed.
func (f *feedFetcher) Fetch(ctx context.Context, feedURL string) (*ParsedFeed, error) {
	f.logger.Debug("fetching feed", "url", feedURL)

	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, classifyFeedError(feedURL, err)
	}

	out := &ParsedFeed{
		Title:       parsed.Title,
		Description: parsed.Description,
		Entries:     make([]FeedEntry, 0, len(parsed.Items)),
	}
	for _, item := range parsed.Items {
		out.Entries = append(out.Entries, buildEntry(item))
	}

	f.logger.Debug("parsed feed", "url", feedURL, "entries", len(out.Entries))
	return out, nil
}

// buildEntry maps one feed item. A missing GUID falls back to a hash of
// title and link so the entry still has a stable identity key.
func buildEntry(item *gofeed.Item) FeedEntry {
	guid := item.GUID
	if guid == "" {
		guid = core.HashString(item.Title + item.Link)
	}

	entry := FeedEntry{
		GUID:     guid,
		Title:    item.Title,
		MediaURL: extractMediaURL(item),
	}
	if item.PublishedParsed != nil {
		entry.PublishedAt = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		entry.PublishedAt = item.UpdatedParsed.UTC()
	}
	return entry
}

// extractMediaURL finds the episode audio. Preference order: an audio
// enclosure, any enclosure, the entry link.
func extractMediaURL(item *gofeed.Item) string {
	var fallback string
	for _, enc := range item.Enclosures {
		if enc.URL == "" {
			continue
		}
		if strings.Contains(enc.Type, "audio") {
			return enc.URL
		}
		if fallback == "" {
			fallback = enc.URL
		}
	}
	if fallback != "" {
		return fallback
	}
	return item.Link
}

func classifyFeedError(feedURL string, err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			return core.Malformed(fmt.Sprintf("feed %s returned %d", feedURL, httpErr.StatusCode))
		}
		return core.Transient(fmt.Errorf("fetching feed %s: %w", feedURL, err))
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return core.Transient(fmt.Errorf("fetching feed %s: %w", feedURL, err))
	}

	// Fetched but unparseable
	return core.Malformed(fmt.Sprintf("feed %s: %v", feedURL, err))
}
