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
	"fmt"
	"io"
	"time"

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
)

// Scheduler enqueues a processing job for a content item. Satisfied by
// ingest.Pipeline.
type Scheduler interface {
	ScheduleItem(ctx context.Context, itemID string) (*core.IngestionJob, error)
}

// Config holds configuration for the reindex operation.
type Config struct {
	// BatchSize is the number of items to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of items)
	ReportInterval int

	// Purge deletes an item's existing points before rescheduling it.
	// Leave false when rebuilding in place: deterministic point IDs
	// overwrite anyway, and the index stays queryable throughout.
	Purge bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
	}
}

// Reindexer rebuilds the vector index by rescheduling every completed
// item through the ingestion pipeline.
type Reindexer struct {
	store     storage.MetadataStore
	index     storage.VectorIndex
	scheduler Scheduler
	config    *Config
	progress  io.Writer
	iterator  *ItemIterator
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr)
func NewReindexer(store storage.MetadataStore, index storage.VectorIndex, scheduler Scheduler, config *Config, progress io.Writer) (*Reindexer, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if scheduler == nil {
		return nil, ErrSchedulerRequired
	}
	if config == nil {
		config = DefaultConfig()
	}

	return &Reindexer{
		store:     store,
		index:     index,
		scheduler: scheduler,
		config:    config,
		progress:  progress,
		iterator:  NewItemIterator(store, config.BatchSize),
	}, nil
}

// Result summarizes one reindex run.
type Result struct {
	Total     int
	Scheduled int
	Skipped   int // items that already had a job in flight
}

// Run executes the reindex operation. Every completed item is
// rescheduled for extraction, chunking, and embedding; items with a job
// already in flight are skipped. Progress is reported to the configured
// writer. The call returns once all jobs are scheduled; completion is
// the pipeline's business.
func (r *Reindexer) Run(ctx context.Context) (*Result, error) {
	// One snapshot feeds both the progress denominator and the walk;
	// listing twice could diverge under concurrent ingestion
	all, err := r.iterator.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed items: %w", err)
	}

	result := &Result{Total: len(all)}
	if result.Total == 0 {
		fmt.Fprintf(r.progress, "No completed items to reindex (0 items)\n")
		return result, nil
	}

	fmt.Fprintf(r.progress, "Starting reindex of %d items (batch size: %d)\n",
		result.Total, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, result.Total, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEachItems(ctx, all, func(items []*core.ContentItem) error {
		for _, item := range items {
			if r.config.Purge {
				if err := r.index.DeleteByItem(ctx, item.ID); err != nil {
					return fmt.Errorf("failed to purge item %s: %w", item.ID, err)
				}
			}

			_, err := r.scheduler.ScheduleItem(ctx, item.ID)
			switch {
			case err == nil:
				result.Scheduled++
			case core.IsInFlight(err):
				result.Skipped++
			default:
				return fmt.Errorf("failed to schedule item %s: %w", item.ID, err)
			}
		}
		tracker.Increment(len(items))
		return nil
	})

	if err != nil {
		return nil, err
	}

	tracker.Finish()

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reindex scheduling complete. %d scheduled, %d skipped in %v\n",
		result.Scheduled, result.Skipped, elapsed.Round(time.Second))

	return result, nil
}
