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


// Package extract provides clients for the content-extraction service that
// turns raw media into text: speech-to-text for podcast audio and text/OCR
// conversion for uploaded documents.
//
// Extraction failures split into two classes. Service outages and timeouts
// are transient and safe to retry; content the service rejects as unreadable
// is terminal and retrying cannot help. Callers distinguish the two with
// core.IsTransient and core.IsMalformed.
package extract

import (
	"context"

	"github.com/pondera-systems/pondera/core"
)

// Extractor converts raw content into text segments.
type Extractor interface {
	// ExtractAudio transcribes the audio found at mediaURL. The returned
	// segments carry time alignments.
	ExtractAudio(ctx context.Context, mediaURL string) ([]core.Segment, error)

	// ExtractDocument converts an uploaded document into text. The returned
	// segments carry section labels where the document structure provides
	// them.
	ExtractDocument(ctx context.Context, content []byte, filename string) ([]core.Segment, error)
}
