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


// Package ai provides abstractions for the embedding services used by the
// ingestion and retrieval pipelines.
//
// The package defines the Embedder interface and a Provider that manages
// its lifecycle. Public constructors in the implementation sub-packages
// return interface types to enforce abstraction:
//
//   - ai/openai: production implementation for OpenAI-compatible APIs
//   - ai/mock: deterministic test doubles requiring no external services
//
// Ingestion and retrieval must share one embedder configuration; mixing
// models produces vectors in different spaces and meaningless similarity
// scores.
package ai
