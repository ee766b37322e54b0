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


// Package storage provides the storage abstraction layer for pondera.
//
// The system persists data on two sides with different shapes:
//
//   - MetadataStore: the relational side. Sources, content items, the
//     deduplication ledger, and ingestion jobs. Implemented by
//     storage/sqlite.
//   - VectorIndex: the similarity side. Chunk embeddings keyed by
//     deterministic point IDs. Implemented by storage/badgervec
//     (embedded) and storage/qdrant (external).
//
// # Constructor Return Type Pattern
//
// This package follows a strict "return interface" pattern for all public
// constructors to enforce abstraction and enable multiple backend
// implementations:
//
//	store, err := sqlite.NewStore(dataDir)      // returns storage.MetadataStore
//	index, err := badgervec.NewIndex(path)      // returns storage.VectorIndex
//
// Internal constructors may return concrete types since they're only used
// within the implementation package.
//
// # Error Taxonomy
//
// Record-level conditions map onto the core sentinels across all backends:
// core.ErrNotFound for missing rows, core.ErrDuplicateItem for dedup
// violations, core.ErrItemInFlight for double-scheduled jobs. Backend
// mechanics (closed handles, codec failures) use this package's sentinels.
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access
// from multiple goroutines.
//
// # Context Support
//
// All methods accept context.Context for cancellation and timeout support.
package storage
