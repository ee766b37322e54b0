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

package reindex

import (
	"context"

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
)

const (
	// DefaultBatchSize is the default number of items to hand to each batch
	DefaultBatchSize = 100
)

// ItemIterator iterates over all completed content items in batches.
type ItemIterator struct {
	store     storage.ItemStore
	batchSize int
}

// NewItemIterator creates a new item iterator.
// batchSize: number of items in each batch (must be > 0)
func NewItemIterator(store storage.ItemStore, batchSize int) *ItemIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ItemIterator{
		store:     store,
		batchSize: batchSize,
	}
}

// List returns the snapshot of completed items the iterator will walk.
func (it *ItemIterator) List(ctx context.Context) ([]*core.ContentItem, error) {
	return it.store.ListItemsByStatus(ctx, core.ItemStatusCompleted)
}

// ForEach iterates over all completed items, calling fn for each batch.
// Iteration stops on first error from fn or when all items are processed.
// Context cancellation is checked between batches.
func (it *ItemIterator) ForEach(ctx context.Context, fn func([]*core.ContentItem) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	items, err := it.List(ctx)
	if err != nil {
		return err
	}
	return it.ForEachItems(ctx, items, fn)
}

// ForEachItems walks a previously listed snapshot in batches, so a caller
// that needs the item count and the iteration sees the same snapshot.
func (it *ItemIterator) ForEachItems(ctx context.Context, items []*core.ContentItem, fn func([]*core.ContentItem) error) error {
	if len(items) == 0 {
		return nil
	}

	for i := 0; i < len(items); i += it.batchSize {
		end := i + it.batchSize
		if end > len(items) {
			end = len(items)
		}

		if err := fn(items[i:end]); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}
