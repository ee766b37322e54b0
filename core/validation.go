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


package core

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrInvalidSource indicates a Source failed validation.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidItem indicates a ContentItem failed validation.
	ErrInvalidItem = errors.New("invalid content item")

	// ErrEmptyIdentityKey indicates a missing identity key.
	ErrEmptyIdentityKey = errors.New("identity key cannot be empty")

	// ErrInvalidSourceKind indicates an unknown SourceKind value.
	ErrInvalidSourceKind = errors.New("invalid source kind")

	// ErrInvalidFeedURL indicates a feed URL that is not http(s).
	ErrInvalidFeedURL = errors.New("feed URL must be http or https")
)

// ValidateSource validates a Source according to domain rules.
//
// Validation rules:
//   - Kind must be feed or document
//   - Key must not be empty
//   - feed sources must carry an http(s) URL as their key
func ValidateSource(source *Source) error {
	if source == nil {
		return fmt.Errorf("%w: source is nil", ErrInvalidSource)
	}

	if err := ValidateSourceKind(source.Kind); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}

	if source.Key == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSource, ErrEmptyIdentityKey)
	}

	if source.Kind == SourceKindFeed {
		u, err := url.Parse(source.Key)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: %w", ErrInvalidSource, ErrInvalidFeedURL)
		}
	}

	return nil
}

// ValidateItem validates a ContentItem according to domain rules.
//
// Validation rules:
//   - SourceID must not be empty
//   - IdentityKey must not be empty
//
// NOT validated (populated during processing):
//   - ChunkIDs, ProcessedAt, Attempts
func ValidateItem(item *ContentItem) error {
	if item == nil {
		return fmt.Errorf("%w: item is nil", ErrInvalidItem)
	}

	if item.SourceID == "" {
		return fmt.Errorf("%w: source id cannot be empty", ErrInvalidItem)
	}

	if item.IdentityKey == "" {
		return fmt.Errorf("%w: %w", ErrInvalidItem, ErrEmptyIdentityKey)
	}

	return nil
}

// ValidateSourceKind validates that a SourceKind has a known value.
func ValidateSourceKind(kind SourceKind) error {
	if kind != SourceKindFeed && kind != SourceKindDocument {
		return fmt.Errorf("%w: %q", ErrInvalidSourceKind, kind)
	}
	return nil
}
