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

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// Extractor pulls plain text out of one file format.
type Extractor interface {
	// Extensions lists the lowercase extensions this extractor handles.
	Extensions() []string

	// Extract returns the file's text content as UTF-8.
	Extract(ctx context.Context, path string) (string, error)
}

// ExtractorRegistry routes files to extractors by extension.
type ExtractorRegistry struct {
	byExt map[string]Extractor
}

// NewExtractorRegistry creates a registry with the built-in extractors
// for .txt, .md, .pdf, .docx, and .xlsx.
func NewExtractorRegistry() *ExtractorRegistry {
	r := &ExtractorRegistry{byExt: make(map[string]Extractor)}
	r.Register(&textExtractor{})
	r.Register(&markdownExtractor{})
	r.Register(&pdfExtractor{})
	r.Register(&docxExtractor{})
	r.Register(&xlsxExtractor{})
	return r
}

// Register adds an extractor, replacing any previous one for the same
// extensions.
func (r *ExtractorRegistry) Register(e Extractor) {
	for _, ext := range e.Extensions() {
		r.byExt[ext] = e
	}
}

// Supported lists the registered extensions.
func (r *ExtractorRegistry) Supported() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract routes path to the matching extractor.
func (r *ExtractorRegistry) Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	extractor, ok := r.byExt[ext]
	if !ok {
		return "", &UnsupportedFormatError{Extension: ext, Supported: r.Supported()}
	}
	text, err := extractor.Extract(ctx, path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &ExtractionError{Path: path, Err: fmt.Errorf("document contains no extractable text")}
	}
	return text, nil
}

// textExtractor reads plain text files with encoding fallback.
type textExtractor struct{}

func (e *textExtractor) Extensions() []string { return []string{".txt"} }

func (e *textExtractor) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	text, err := decodeText(data)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	return text, nil
}

// markdownExtractor reads markdown and strips syntax down to prose so
// formatting characters never pollute embeddings.
type markdownExtractor struct{}

func (e *markdownExtractor) Extensions() []string { return []string{".md", ".markdown"} }

var (
	mdCodeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	mdInlineCodeRe = regexp.MustCompile("`([^`]*)`")
	mdImageRe      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLinkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdHeadingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasisRe   = regexp.MustCompile(`(\*\*|__|\*|_)([^*_]+)(\*\*|__|\*|_)`)
	mdListMarkerRe = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	mdBlockquoteRe = regexp.MustCompile(`(?m)^>\s?`)
	mdTableRuleRe  = regexp.MustCompile(`(?m)^\s*\|?[\s:|-]+\|[\s:|-]*$`)
	mdHorizRuleRe  = regexp.MustCompile(`(?m)^(\s*[-*_]){3,}\s*$`)
)

func (e *markdownExtractor) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	text, err := decodeText(data)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	return StripMarkdown(text), nil
}

// StripMarkdown removes markdown syntax, keeping heading and link text.
// Code fences are dropped whole; their content is rarely useful prose.
func StripMarkdown(text string) string {
	text = mdCodeFenceRe.ReplaceAllString(text, "")
	text = mdImageRe.ReplaceAllString(text, "$1")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = mdInlineCodeRe.ReplaceAllString(text, "$1")
	text = mdTableRuleRe.ReplaceAllString(text, "")
	text = mdHorizRuleRe.ReplaceAllString(text, "")
	text = mdHeadingRe.ReplaceAllString(text, "")
	text = mdEmphasisRe.ReplaceAllString(text, "$2")
	text = mdListMarkerRe.ReplaceAllString(text, "")
	text = mdBlockquoteRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "|", " ")
	return text
}

// pdfExtractor extracts text page by page.
type pdfExtractor struct{}

func (e *pdfExtractor) Extensions() []string { return []string{".pdf"} }

func (e *pdfExtractor) Extract(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	file, err := os.Open(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single bad page should not sink the document.
			slog.Warn("skipping unreadable pdf page", "path", path, "page", pageNum, "error", err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// docxExtractor extracts Word document body text.
type docxExtractor struct{}

func (e *docxExtractor) Extensions() []string { return []string{".docx"} }

// docxTagRe strips the remaining WordprocessingML tags after the library
// flattens the body to a string.
var docxTagRe = regexp.MustCompile(`<[^>]+>`)

func (e *docxExtractor) Extract(ctx context.Context, path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	content = docxTagRe.ReplaceAllString(content, "")
	return content, nil
}

// xlsxExtractor flattens spreadsheet cells to lines of text, one row per
// line, sheets separated by their names.
type xlsxExtractor struct{}

func (e *xlsxExtractor) Extensions() []string { return []string{".xlsx"} }

func (e *xlsxExtractor) Extract(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}

		var b strings.Builder
		b.WriteString(sheet + "\n")
		for _, row := range rows {
			var cells []string
			for _, cell := range row {
				if trimmed := strings.TrimSpace(cell); trimmed != "" {
					cells = append(cells, trimmed)
				}
			}
			if len(cells) > 0 {
				b.WriteString(strings.Join(cells, " | ") + "\n")
			}
		}
		if b.Len() > len(sheet)+1 {
			parts = append(parts, b.String())
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
