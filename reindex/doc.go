// Package reindex rebuilds the vector index from completed content
// items.
//
// The index is a derived projection of the metadata store: every
// completed item can be re-extracted, re-chunked, and re-embedded at
// any time, and deterministic chunk point IDs guarantee the rebuild
// overwrites rather than duplicates. Use it after switching embedding
// models or vector backends, or to repair an index lost to disk
// failure.
//
// This package supports batch processing of items and progress
// tracking; the retry logic lives in the ingestion jobs it schedules.
package reindex
