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


// Package ingest implements the content ingestion pipeline.
//
// Sources enter the system through RegisterFeed and UploadDocument; each
// new content item gets an asynchronous job that runs extraction,
// chunking, embedding, and vector indexing on a worker pool. Two
// mechanisms make the pipeline safe to re-run:
//
//   - The dedup ledger: an item's identity key (feed entry GUID or
//     document content hash) is unique per source, so re-syncing a feed
//     or re-uploading a file never reprocesses known content.
//   - Deterministic chunk point IDs: re-ingesting an item overwrites its
//     vector index points in place instead of duplicating them, which is
//     what makes crash recovery a plain re-run.
//
// Failures split by the core taxonomy: transient errors retry with
// exponential backoff, every attempt counted on the job and item, and
// the job fails terminally once the attempt budget runs out; malformed
// content fails the one item terminally while the rest of the batch
// proceeds.
package ingest
