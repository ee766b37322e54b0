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

// Package retrieval answers queries against the ingested knowledge base.
//
// The Engine type implements a multi-stage query pipeline:
//   - Semantic search using vector embeddings with an inclusive
//     relevance threshold
//   - Entity grouping with disambiguation when a query matches too
//     many distinct items
//   - Context assembly under a token budget with per-passage
//     attribution
//
// The engine is deadline aware: when the query context expires
// mid-pipeline, the partial result is returned with Truncated set
// rather than an error. An unreachable embedding provider or vector
// index likewise degrades to an insufficient-kb result with a Note, so
// the web fallback still gets a chance to answer.
package retrieval
