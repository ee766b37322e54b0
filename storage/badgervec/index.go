package badgervec

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
)

// Key prefixes for different data types
const (
	pointPrefix     = "pnt:"
	itemIndexPrefix = "itm:"
	dimensionKey    = "meta:dim"
)

// Index is an embedded storage.VectorIndex on BadgerDB. Search is a
// brute-force cosine scan over all points, which is fine for the corpus
// sizes a single-node deployment holds.
type Index struct {
	db        *badger.DB
	dimension int
	logger    *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// NewIndex opens a BadgerDB-backed vector index at the given path,
// creating the directory if it doesn't exist.
//
// Returns storage.VectorIndex to enforce abstraction.
func NewIndex(path string) (storage.VectorIndex, error) {
	return openIndex(path, false)
}

// NewMemoryIndex creates an in-memory vector index for testing.
func NewMemoryIndex() (storage.VectorIndex, error) {
	return openIndex("", true)
}

func openIndex(path string, inMemory bool) (*Index, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, err
			}
			info, err = os.Stat(path)
			if err != nil {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", path)
		}
		opts = badger.DefaultOptions(path)
	}

	opts.Logger = &badgerLoggerAdapter{logger: slog.Default()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		db:     db,
		logger: slog.Default().With("component", "badgervec"),
	}

	// Restore the dimension recorded by a previous EnsureReady
	err = db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(dimensionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				idx.dimension = int(binary.BigEndian.Uint64(val))
			}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return idx, nil
}

// Close closes the underlying database.
func (x *Index) Close() error {
	return x.db.Close()
}

// EnsureReady records the vector dimension on first use. Reopening with a
// different dimension is an error; the index would silently return garbage
// similarities otherwise.
func (x *Index) EnsureReady(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidQuery)
	}
	if x.dimension != 0 {
		if x.dimension != dimension {
			return fmt.Errorf("%w: index holds %d-dim vectors, requested %d",
				storage.ErrDimensionMismatch, x.dimension, dimension)
		}
		return nil
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(dimension))
	err := x.db.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(dimensionKey), buf)
	})
	if err != nil {
		return err
	}
	x.dimension = dimension
	x.logger.Debug("vector index ready", "dimension", dimension)
	return nil
}

// Upsert writes chunks keyed by their deterministic point IDs. A re-upserted
// chunk overwrites the previous point; a secondary item index supports
// DeleteByItem.
func (x *Index) Upsert(ctx context.Context, chunks []*core.Chunk) error {
	if x.dimension == 0 {
		return fmt.Errorf("%w: EnsureReady not called", storage.ErrInvalidQuery)
	}

	wb := x.db.NewWriteBatch()
	defer wb.Cancel()

	for _, chunk := range chunks {
		if len(chunk.Vector) != x.dimension {
			return fmt.Errorf("%w: chunk %s has %d dims, index expects %d",
				storage.ErrDimensionMismatch, chunk.PointID(), len(chunk.Vector), x.dimension)
		}

		data, err := marshalPoint(chunk)
		if err != nil {
			return err
		}

		pointID := chunk.PointID()
		if err := wb.Set(makePointKey(pointID), data); err != nil {
			return err
		}
		if err := wb.Set(makeItemIndexKey(chunk.ItemID, pointID), nil); err != nil {
			return err
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing upsert batch: %w", err)
	}

	x.logger.Debug("upserted points", "count", len(chunks))
	return nil
}

// Search scans all points and returns those with cosine similarity >=
// threshold, ordered by score descending. The threshold is inclusive.
func (x *Index) Search(ctx context.Context, vector []float32, limit int, threshold float32, filter storage.SearchFilter) ([]*core.SearchHit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	var hits []*core.SearchHit

	err := x.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pointPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var rec *pointRecord
			err := iter.Item().Value(func(val []byte) error {
				var err error
				rec, err = unmarshalPoint(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(rec.Vector) == 0 || !matchesFilter(rec, filter) {
				continue
			}

			score := cosineSimilarity(vector, rec.Vector)
			if score >= threshold {
				hits = append(hits, &core.SearchHit{
					ChunkID:  rec.ChunkID,
					ItemID:   rec.ItemID,
					SourceID: rec.SourceID,
					Text:     rec.Text,
					Score:    score,
					Section:  rec.Section,
					Metadata: rec.Metadata,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(hits, func(a, b *core.SearchHit) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteByItem removes all points belonging to a content item.
func (x *Index) DeleteByItem(ctx context.Context, itemID string) error {
	// Collect point IDs from the item index first; badger forbids
	// deleting behind a live iterator.
	var pointIDs []string
	err := x.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeItemIndexScanPrefix(itemID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			pointIDs = append(pointIDs, pointIDFromItemIndexKey(iter.Item().Key(), itemID))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return x.db.Update(func(tx *badger.Txn) error {
		for _, pointID := range pointIDs {
			if err := tx.Delete(makePointKey(pointID)); err != nil {
				return err
			}
			if err := tx.Delete(makeItemIndexKey(itemID, pointID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of points in the index.
func (x *Index) Count(ctx context.Context) (uint64, error) {
	var count uint64
	err := x.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pointPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func matchesFilter(rec *pointRecord, filter storage.SearchFilter) bool {
	if filter.Empty() {
		return true
	}
	if len(filter.SourceIDs) > 0 && !slices.Contains(filter.SourceIDs, rec.SourceID) {
		return false
	}
	if len(filter.ItemIDs) > 0 && !slices.Contains(filter.ItemIDs, rec.ItemID) {
		return false
	}
	if len(filter.DocTypes) > 0 && !slices.Contains(filter.DocTypes, rec.DocType) {
		return false
	}
	return true
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for zero-magnitude inputs.
func cosineSimilarity(a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}

func makePointKey(pointID string) []byte {
	return []byte(pointPrefix + pointID)
}

func makeItemIndexKey(itemID, pointID string) []byte {
	return []byte(itemIndexPrefix + itemID + ":" + pointID)
}

func makeItemIndexScanPrefix(itemID string) []byte {
	return []byte(itemIndexPrefix + itemID + ":")
}

func pointIDFromItemIndexKey(key []byte, itemID string) string {
	return string(key[len(itemIndexPrefix)+len(itemID)+1:])
}
