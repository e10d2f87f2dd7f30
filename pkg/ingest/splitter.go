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
	"regexp"
	"strconv"
	"strings"

	"github.com/lorehq/lore/pkg/config"
)

// ChunkMetadata records how a chunk was produced. SplitterType and
// SplitMethod are always set; the remaining fields apply to the strategy
// that produced the chunk. Extra carries open-ended keys through to the
// vector payload.
type ChunkMetadata struct {
	SplitterType string `json:"splitter_type"`
	SplitMethod  string `json:"split_method"`
	Length       int    `json:"length"`

	// Hierarchical splits.
	SectionTitle  string   `json:"section_title,omitempty"`
	Level         int      `json:"level,omitempty"`
	HierarchyPath []string `json:"hierarchy_path,omitempty"`

	// Structural splits.
	Paragraphs  int  `json:"paragraphs,omitempty"`
	HasHeader   bool `json:"has_header,omitempty"`
	HeaderLevel int  `json:"header_level,omitempty"`

	// Semantic splits.
	SentenceCount int `json:"sentence_count,omitempty"`
	SemanticGroup int `json:"semantic_group,omitempty"`

	// Fixed-size splits, rune offsets into the source text.
	StartPos int `json:"start_pos,omitempty"`
	EndPos   int `json:"end_pos,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// Map flattens the metadata into the string map shape vector payloads use.
func (m ChunkMetadata) Map() map[string]string {
	out := map[string]string{
		"splitter_type": m.SplitterType,
		"split_method":  m.SplitMethod,
		"length":        strconv.Itoa(m.Length),
	}
	if m.SectionTitle != "" {
		out["section_title"] = m.SectionTitle
		out["level"] = strconv.Itoa(m.Level)
	}
	if len(m.HierarchyPath) > 0 {
		out["hierarchy_path"] = strings.Join(m.HierarchyPath, " > ")
	}
	if m.Paragraphs > 0 {
		out["paragraphs"] = strconv.Itoa(m.Paragraphs)
	}
	if m.HasHeader {
		out["has_header"] = "true"
		out["header_level"] = strconv.Itoa(m.HeaderLevel)
	}
	if m.SentenceCount > 0 {
		out["sentence_count"] = strconv.Itoa(m.SentenceCount)
		out["semantic_group"] = strconv.Itoa(m.SemanticGroup)
	}
	if m.SplitterType == "fixed" {
		out["start_pos"] = strconv.Itoa(m.StartPos)
		out["end_pos"] = strconv.Itoa(m.EndPos)
	}
	for k, v := range m.Extra {
		out[k] = v
	}
	return out
}

// Chunk is one splitter output unit.
type Chunk struct {
	// Index is the chunk's position in the document, dense from 0.
	Index int

	// Content is the chunk text, including any title-path prefix.
	Content string

	// TitlePath carries the enclosing section titles for hierarchical
	// splits, outermost first.
	TitlePath []string

	// ParentIndex is the pre-refinement index of the chunk this one was
	// re-split from, -1 when the chunk is original.
	ParentIndex int

	// Metadata records the producing strategy.
	Metadata ChunkMetadata
}

// Splitter cuts preprocessed text into chunks.
type Splitter interface {
	Split(text string) []Chunk
}

// sentenceEndRe matches sentence-terminating punctuation for both Latin
// and CJK text.
var sentenceEndRe = regexp.MustCompile(`[.!?。！？；;]`)

// lookAheadWindow bounds how far past the target size the fixed splitter
// scans for a sentence boundary before cutting mid-sentence.
const lookAheadWindow = 50

// FixedSplitter cuts text into size-targeted chunks with overlap,
// preferring sentence boundaries within the look-ahead window.
type FixedSplitter struct {
	ChunkSize int
	Overlap   int
}

func (s *FixedSplitter) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = extendToSentence(runes, end)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, Chunk{
				Index:       len(chunks),
				Content:     content,
				ParentIndex: -1,
				Metadata: ChunkMetadata{
					SplitterType: "fixed",
					SplitMethod:  "fixed_size",
					Length:       len([]rune(content)),
					StartPos:     start,
					EndPos:       end,
				},
			})
		}

		if end >= len(runes) {
			break
		}
		next := end - s.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// extendToSentence pushes end forward to the next sentence boundary if one
// falls within the look-ahead window.
func extendToSentence(runes []rune, end int) int {
	limit := end + lookAheadWindow
	if limit > len(runes) {
		limit = len(runes)
	}
	for i := end; i < limit; i++ {
		if sentenceEndRe.MatchString(string(runes[i])) || runes[i] == '\n' {
			return i + 1
		}
	}
	// No boundary ahead; look back inside the chunk instead so the cut
	// still lands on a sentence when possible.
	for i := end - 1; i > end-lookAheadWindow && i > 0; i-- {
		if sentenceEndRe.MatchString(string(runes[i])) || runes[i] == '\n' {
			return i + 1
		}
	}
	return end
}

// headerLineRe matches markdown headings and numbered headings like
// "1. Introduction" or "2.3 Results" at the start of a paragraph.
var headerLineRe = regexp.MustCompile(`^(#{1,6})\s+\S|^\d+(\.\d+)*[.、]?\s+\S`)

// headerLevel reports the heading level of a paragraph's first line, 0 when
// it is not a heading. Markdown levels come from the marker count, numbered
// headings from their dotted depth.
func headerLevel(para string) int {
	line := para
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	m := headerLineRe.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	if m[1] != "" {
		return len(m[1])
	}
	number := strings.TrimRight(strings.Fields(line)[0], ".、")
	return strings.Count(number, ".") + 1
}

// StructureSplitter groups paragraphs into chunks up to the target size.
// Paragraph boundaries are never cut; a heading always starts a new chunk,
// and an oversize paragraph is passed through whole and left for
// refinement to re-split. Overlap carries trailing characters of a flushed
// chunk into the next one.
type StructureSplitter struct {
	ChunkSize int
	Overlap   int
}

func (s *StructureSplitter) Split(text string) []Chunk {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []Chunk
	var current strings.Builder
	paraCount := 0
	hasHeader := false
	headerLvl := 0
	var carry string

	flush := func() {
		content := strings.TrimSpace(current.String())
		if content != "" {
			chunks = append(chunks, Chunk{
				Index:       len(chunks),
				Content:     content,
				ParentIndex: -1,
				Metadata: ChunkMetadata{
					SplitterType: "structure",
					SplitMethod:  "paragraph",
					Length:       len([]rune(content)),
					Paragraphs:   paraCount,
					HasHeader:    hasHeader,
					HeaderLevel:  headerLvl,
				},
			})
			if s.Overlap > 0 {
				runes := []rune(content)
				if len(runes) > s.Overlap {
					runes = runes[len(runes)-s.Overlap:]
				}
				carry = string(runes)
			}
		}
		current.Reset()
		paraCount = 0
		hasHeader = false
		headerLvl = 0
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		level := headerLevel(para)
		if current.Len() > 0 && (level > 0 || current.Len()+len(para) > s.ChunkSize) {
			flush()
		}
		if current.Len() == 0 && carry != "" && level == 0 {
			current.WriteString(carry)
			current.WriteString("\n\n")
		}
		carry = ""
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		paraCount++
		if level > 0 && !hasHeader {
			hasHeader = true
			headerLvl = level
		}
	}
	flush()
	return chunks
}

// chapterRe matches Chinese chapter and section headings such as 第一章 and
// 第3节, plus markdown-style # headings that survive extraction.
var chapterRe = regexp.MustCompile(`(?m)^\s*(第[一二三四五六七八九十百千零0-9]+[章节部分篇卷]\s*.*|#{1,6}\s+.*)$`)

// cjkChapterRe matches only the numbered-chapter form, which gates the
// hierarchical strategy.
var cjkChapterRe = regexp.MustCompile(`(?m)^\s*第[一二三四五六七八九十百千零0-9]+[章节部分篇卷]`)

// headingLevel ranks a heading for the title tree: markdown by marker
// count, CJK chapters above CJK sections.
func headingLevel(title string) int {
	if strings.HasPrefix(title, "#") {
		marks := 0
		for _, r := range title {
			if r != '#' {
				break
			}
			marks++
		}
		return marks
	}
	if m := cjkChapterRe.FindString(title); m != "" {
		switch []rune(m)[len([]rune(m))-1] {
		case '章', '部', '篇', '卷':
			return 1
		default:
			return 2
		}
	}
	return 2
}

// HierarchicalSplitter cuts text at chapter and section headings, carrying
// the title path into each chunk so retrieval sees section context. Levels
// come from heading syntax; a deeper heading nests under the last
// shallower one.
type HierarchicalSplitter struct {
	ChunkSize int
	Overlap   int
}

func (s *HierarchicalSplitter) Split(text string) []Chunk {
	headings := chapterRe.FindAllStringIndex(text, -1)
	if len(headings) == 0 {
		fixed := &FixedSplitter{ChunkSize: s.ChunkSize, Overlap: s.Overlap}
		return fixed.Split(text)
	}

	type section struct {
		title string
		level int
		path  []string
		body  string
	}
	var sections []section

	// Text before the first heading belongs to an untitled preamble.
	if preamble := strings.TrimSpace(text[:headings[0][0]]); preamble != "" {
		sections = append(sections, section{body: preamble})
	}

	type stackEntry struct {
		level int
		title string
	}
	var stack []stackEntry
	for i, loc := range headings {
		raw := strings.TrimSpace(text[loc[0]:loc[1]])
		level := headingLevel(raw)
		title := strings.TrimLeft(raw, "# ")

		for len(stack) > 0 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, stackEntry{level: level, title: title})

		path := make([]string, len(stack))
		for j, e := range stack {
			path[j] = e.title
		}

		bodyEnd := len(text)
		if i+1 < len(headings) {
			bodyEnd = headings[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:bodyEnd])
		sections = append(sections, section{title: title, level: level, path: path, body: body})
	}

	fixed := &FixedSplitter{ChunkSize: s.ChunkSize, Overlap: s.Overlap}
	var chunks []Chunk
	for _, sec := range sections {
		if sec.body == "" {
			continue
		}
		for _, sub := range fixed.Split(sec.body) {
			chunk := Chunk{
				Index:       len(chunks),
				Content:     sub.Content,
				ParentIndex: -1,
				Metadata: ChunkMetadata{
					SplitterType:  "hierarchical",
					SplitMethod:   "hierarchical",
					SectionTitle:  sec.title,
					Level:         sec.level,
					HierarchyPath: sec.path,
				},
			}
			if sec.title != "" {
				chunk.TitlePath = sec.path
				chunk.Content = sec.title + "\n" + sub.Content
			}
			chunk.Metadata.Length = len([]rune(chunk.Content))
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// discourseMarkers open sentences that start a new line of thought; the
// semantic splitter prefers to break chunks there.
var discourseMarkers = []string{
	"however", "therefore", "in summary", "in conclusion", "furthermore",
	"moreover", "on the other hand", "first", "second", "finally",
	"然而", "因此", "总之", "综上所述", "此外", "另外", "另一方面", "首先", "其次", "最后",
}

// SemanticSplitter groups sentences into chunks, starting a new chunk when
// a discourse marker opens a sentence and the current chunk is large
// enough to stand alone.
type SemanticSplitter struct {
	ChunkSize    int
	MinChunkSize int
}

func (s *SemanticSplitter) Split(text string) []Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var current strings.Builder
	sentenceCount := 0
	flush := func() {
		content := strings.TrimSpace(current.String())
		if content != "" {
			chunks = append(chunks, Chunk{
				Index:       len(chunks),
				Content:     content,
				ParentIndex: -1,
				Metadata: ChunkMetadata{
					SplitterType:  "semantic",
					SplitMethod:   "semantic",
					Length:        len([]rune(content)),
					SentenceCount: sentenceCount,
					SemanticGroup: len(chunks),
				},
			})
		}
		current.Reset()
		sentenceCount = 0
	}

	for _, sentence := range sentences {
		if current.Len() >= s.MinChunkSize && startsWithMarker(sentence) {
			flush()
		}
		if current.Len() > 0 && current.Len()+len(sentence) > s.ChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
		sentenceCount++
	}
	flush()
	return chunks
}

func startsWithMarker(sentence string) bool {
	lower := strings.ToLower(strings.TrimSpace(sentence))
	for _, marker := range discourseMarkers {
		if strings.HasPrefix(lower, marker) {
			return true
		}
	}
	return false
}

// splitSentences cuts text at sentence-ending punctuation, keeping the
// punctuation attached to its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if sentenceEndRe.MatchString(string(r)) || r == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// Strategy selection thresholds, in document runes.
const (
	hierarchicalMinLength  = 2000
	semanticMinLength      = 1000
	structureMinParagraphs = 5
)

// paragraphCount counts non-empty blank-line-separated blocks.
func paragraphCount(text string) int {
	count := 0
	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) != "" {
			count++
		}
	}
	return count
}

// hasHeaders reports whether any line is a markdown or numbered heading.
var anyHeaderRe = regexp.MustCompile(`(?m)^\s*(#{1,6}\s+\S|\d+(\.\d+)*[.、]\s+\S)`)

func hasHeaders(text string) bool {
	return anyHeaderRe.MatchString(text)
}

// ChooseSplitter selects a strategy for the document. Long chaptered
// documents get the hierarchical splitter; documents with headings and
// enough paragraphs get the structure splitter; semantic splitting applies
// only when enabled and the document is long enough to group; everything
// else falls back to fixed-size splitting.
func ChooseSplitter(text string, cfg config.EmbeddingsSection) Splitter {
	length := len([]rune(text))
	switch {
	case cjkChapterRe.MatchString(text) && length > hierarchicalMinLength:
		return &HierarchicalSplitter{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	case hasHeaders(text) && paragraphCount(text) >= structureMinParagraphs:
		return &StructureSplitter{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	case cfg.SemanticSplit && length > semanticMinLength:
		return &SemanticSplitter{ChunkSize: cfg.ChunkSize, MinChunkSize: cfg.MinChunkSize}
	default:
		return &FixedSplitter{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	}
}

// Refine enforces chunk size bounds after splitting: oversize chunks are
// re-split (children reference their parent's index), an undersize chunk
// merges into the preceding chunk while the combined size stays within
// maxSize and is dropped otherwise, and indices are re-densified.
func Refine(chunks []Chunk, minSize, maxSize int) []Chunk {
	if len(chunks) == 0 {
		return nil
	}

	// Re-split oversize chunks.
	var resplit []Chunk
	for _, chunk := range chunks {
		if len([]rune(chunk.Content)) <= maxSize {
			resplit = append(resplit, chunk)
			continue
		}
		sub := (&FixedSplitter{ChunkSize: maxSize, Overlap: 0}).Split(chunk.Content)
		for _, piece := range sub {
			meta := chunk.Metadata
			meta.Length = len([]rune(piece.Content))
			resplit = append(resplit, Chunk{
				Content:     piece.Content,
				TitlePath:   chunk.TitlePath,
				ParentIndex: chunk.Index,
				Metadata:    meta,
			})
		}
	}

	// The leading chunk has no predecessor; an undersize head merges into
	// its successor instead when the combined size fits.
	if len(resplit) > 1 {
		head := resplit[0]
		headSize := len([]rune(head.Content))
		if headSize < minSize && headSize+1+len([]rune(resplit[1].Content)) <= maxSize {
			next := &resplit[1]
			next.Content = head.Content + "\n" + next.Content
			if next.ParentIndex != head.ParentIndex {
				next.ParentIndex = -1
			}
			resplit = resplit[1:]
		}
	}

	var merged []Chunk
	for _, chunk := range resplit {
		size := len([]rune(chunk.Content))
		if size >= minSize || len(merged) == 0 {
			merged = append(merged, chunk)
			continue
		}
		prev := &merged[len(merged)-1]
		prevSize := len([]rune(prev.Content))
		if prevSize+1+size > maxSize {
			// Too small to stand, too big to merge. Dropped.
			continue
		}
		prev.Content = prev.Content + "\n" + chunk.Content
		if prev.ParentIndex != chunk.ParentIndex {
			prev.ParentIndex = -1
		}
	}

	for i := range merged {
		merged[i].Index = i
		merged[i].Metadata.Length = len([]rune(merged[i].Content))
	}
	return merged
}
