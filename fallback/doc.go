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

// Package fallback augments insufficient knowledge-base answers with
// web search results.
//
// The Coordinator decides when a query result needs augmentation and
// merges web snippets into the query context with explicit web
// attribution, keeping any below-threshold knowledge-base passages
// alongside. A web provider failure degrades the answer to
// knowledge-base-only with a note; it never fails the query.
package fallback
