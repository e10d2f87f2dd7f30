// Copyright 2026 The Lore Authors
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

package store

import "fmt"

// NotFoundError reports a missing row by kind and ID.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// SessionError wraps a session-store failure with the operation and
// session that caused it.
type SessionError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("session store: %s failed for session %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("session store: %s failed: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// DocumentStoreError wraps a document-store failure.
type DocumentStoreError struct {
	Op         string
	DocumentID string
	Err        error
}

func (e *DocumentStoreError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("document store: %s failed for document %s: %v", e.Op, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("document store: %s failed: %v", e.Op, e.Err)
}

func (e *DocumentStoreError) Unwrap() error {
	return e.Err
}
