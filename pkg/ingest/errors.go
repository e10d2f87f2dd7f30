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

package ingest

import "fmt"

// DocumentError reports an ingestion failure for a specific document.
type DocumentError struct {
	DocumentID string
	Stage      string
	Err        error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("ingestion failed for document %s at %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// NewDocumentError creates a DocumentError.
func NewDocumentError(documentID, stage string, err error) *DocumentError {
	return &DocumentError{DocumentID: documentID, Stage: stage, Err: err}
}

// UnsupportedFormatError reports a file extension no extractor handles.
type UnsupportedFormatError struct {
	Extension string
	Supported []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported document format %q (supported: %v)", e.Extension, e.Supported)
}

// ExtractionError reports a failure reading or decoding a source file.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract text from %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
