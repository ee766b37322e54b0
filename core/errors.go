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
	"context"
	"errors"
	"net"
)

var (
	// ErrDuplicateItem indicates a content item with an already-seen
	// identity key. Callers treat it as "already known", not as a failure.
	ErrDuplicateItem = errors.New("duplicate content item")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrProviderUnavailable indicates an external provider (embedding,
	// vector index, web search) is down. Pipelines degrade instead of
	// crashing: ingestion retries later, queries fall back or answer
	// knowledge-base-only.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrItemInFlight indicates the content item already has a running job.
	ErrItemInFlight = errors.New("item already has a job in flight")
)

// IsDuplicate reports whether err is a dedup-ledger violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateItem)
}

// IsInFlight reports whether err means the item already has a job running.
func IsInFlight(err error) bool {
	return errors.Is(err, ErrItemInFlight)
}

// MalformedContentError is a terminal per-item failure: the content cannot
// be processed no matter how often it is retried. The owning item is marked
// failed and ingestion continues for other items.
type MalformedContentError struct {
	Reason string
}

func (e *MalformedContentError) Error() string {
	return "malformed content: " + e.Reason
}

// Malformed wraps a reason into a MalformedContentError.
func Malformed(reason string) error {
	return &MalformedContentError{Reason: reason}
}

// IsMalformed reports whether err is a terminal content failure.
func IsMalformed(err error) bool {
	var mc *MalformedContentError
	return errors.As(err, &mc)
}

// transientError marks an error as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as a retryable failure (network, timeout, provider
// rate limit). Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried with backoff. Explicitly
// marked errors, deadline expiry, and network timeouts all qualify.
// Malformed content never does, even if wrapped.
func IsTransient(err error) bool {
	if err == nil || IsMalformed(err) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, ErrProviderUnavailable)
}
