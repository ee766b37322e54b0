// Package chunker splits extracted text into overlapping chunks sized for
// embedding, preserving time alignments and section labels from the source
// segments.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pondera-systems/pondera/core"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 100

// boundarySearchWindow is how far back from the cut point a sentence
// boundary is searched for.
const boundarySearchWindow = 200

// sentencePattern matches the end of a sentence, including any closing
// quotes or brackets that trail the terminator.
var sentencePattern = regexp.MustCompile(`[.!?]+\s+["'”’)\]]*`)

// wordPattern matches a word preceded by whitespace, used as the fallback
// break point when no sentence boundary is in range.
var wordPattern = regexp.MustCompile(`\s+\S+`)

// Chunker splits segment text into chunks. It is deterministic: the same
// segments always produce the same chunks in the same order, which keeps
// chunk point IDs stable across re-ingestion.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Overlap must leave forward progress
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// placedSegment tracks where a segment's text landed in the combined text.
type placedSegment struct {
	core.Segment
	start int
	end   int
}

// Chunk splits the segments into ordered chunks for the given item. Each
// chunk carries the union of the time ranges of the segments it overlaps
// and the section label of the first labeled segment it touches.
func (c *Chunker) Chunk(itemID string, segments []core.Segment) []*core.Chunk {
	placed, combined := combine(segments)
	if combined == "" {
		return nil
	}

	var chunks []*core.Chunk
	start := 0
	ordinal := 0

	for start < len(combined) {
		end := min(start+c.chunkSize, len(combined))

		if end < len(combined) {
			if boundary := findBoundary(combined, start, end); boundary > start {
				end = boundary
			}
			end = runeStart(combined, end)
			if end <= start {
				_, size := utf8.DecodeRuneInString(combined[start:])
				end = start + size
			}
		}

		text := strings.TrimSpace(combined[start:end])
		if text != "" {
			chunk := &core.Chunk{
				ItemID:  itemID,
				Ordinal: ordinal,
				Text:    text,
			}
			annotate(chunk, placed, start, end)
			chunks = append(chunks, chunk)
			ordinal++
		}

		// Step back by the overlap but always move forward
		start = max(end-c.overlap, start+1)
		for start < len(combined) && !utf8.RuneStart(combined[start]) {
			start++
		}
	}

	return chunks
}

// combine joins segment texts with blank lines and records each segment's
// character span in the result.
func combine(segments []core.Segment) ([]placedSegment, string) {
	var sb strings.Builder
	placed := make([]placedSegment, 0, len(segments))

	for _, seg := range segments {
		if seg.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		start := sb.Len()
		sb.WriteString(seg.Text)
		placed = append(placed, placedSegment{Segment: seg, start: start, end: sb.Len()})
	}

	return placed, sb.String()
}

// findBoundary returns the best break position in (start, end], preferring
// the last sentence ending within the search window, then the last word
// start, then end itself.
func findBoundary(text string, start, end int) int {
	searchStart := max(start, end-boundarySearchWindow)
	window := text[searchStart:end]

	if locs := sentencePattern.FindAllStringIndex(window, -1); len(locs) > 0 {
		return searchStart + locs[len(locs)-1][1]
	}
	if locs := wordPattern.FindAllStringIndex(window, -1); len(locs) > 0 {
		return searchStart + locs[len(locs)-1][0]
	}
	return end
}

// runeStart backs pos up to the nearest rune start so a window cut never
// slices mid-rune (unspaced CJK text has no word boundary to land on).
func runeStart(s string, pos int) int {
	for pos > 0 && pos < len(s) && !utf8.RuneStart(s[pos]) {
		pos--
	}
	return pos
}

// annotate attaches time range and section metadata from the segments the
// chunk's span overlaps.
func annotate(chunk *core.Chunk, placed []placedSegment, start, end int) {
	var tr core.TimeRange
	for _, seg := range placed {
		if seg.end <= start || seg.start >= end {
			continue
		}
		tr = tr.Union(core.TimeRange{Start: seg.Start, End: seg.End})
		if chunk.Section == "" && seg.Section != "" {
			chunk.Section = seg.Section
		}
	}
	chunk.TimeRange = tr
}
