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
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/lorehq/lore/pkg/config"
)

// PreprocessOptions selects the optional cleanup stages. The mandatory
// normalization stages always run.
type PreprocessOptions struct {
	RemoveURLs   bool
	RemoveEmails bool
	RemovePhones bool

	// FilterSpecial replaces special characters with spaces, preserving
	// letters, digits, CJK text, and basic punctuation.
	FilterSpecial bool

	// CustomPatterns are additional regexes whose matches are removed.
	// A pattern that fails to compile is skipped, not fatal.
	CustomPatterns []string

	// Stopwords are removed as whole words; CJK entries are removed as
	// substrings since CJK text carries no word boundaries.
	Stopwords []string

	Lowercase bool
}

// englishStopwords and cjkStopwords are the bundled lists applied when
// stopword removal is enabled through configuration.
var englishStopwords = []string{
	"a", "an", "the", "and", "or", "but", "if", "then", "than", "so",
	"of", "to", "in", "on", "at", "by", "for", "with", "from", "as",
	"is", "am", "are", "was", "were", "be", "been", "being",
	"it", "its", "this", "that", "these", "those",
	"i", "you", "he", "she", "we", "they",
}

var cjkStopwords = []string{
	"的", "了", "和", "是", "在", "有", "也", "就", "都", "而",
	"及", "与", "着", "或", "一个", "没有", "我们", "你们", "他们",
	"这个", "那个", "这些", "那些", "不是", "可以", "因为", "所以",
}

// OptionsFromConfig maps the configured preprocessing section onto the
// pipeline options, expanding the bundled stopword lists.
func OptionsFromConfig(cfg config.PreprocessSection) PreprocessOptions {
	opts := PreprocessOptions{
		RemoveURLs:     cfg.RemoveURLs,
		RemoveEmails:   cfg.RemoveEmails,
		RemovePhones:   cfg.RemovePhones,
		FilterSpecial:  cfg.FilterSpecial,
		CustomPatterns: cfg.CustomPatterns,
		Lowercase:      cfg.Lowercase,
	}
	if cfg.RemoveStopwords {
		opts.Stopwords = make([]string, 0, len(englishStopwords)+len(cjkStopwords)+len(cfg.Stopwords))
		opts.Stopwords = append(opts.Stopwords, englishStopwords...)
		opts.Stopwords = append(opts.Stopwords, cjkStopwords...)
		opts.Stopwords = append(opts.Stopwords, cfg.Stopwords...)
	} else if len(cfg.Stopwords) > 0 {
		opts.Stopwords = cfg.Stopwords
	}
	return opts
}

var (
	urlRe   = regexp.MustCompile(`https?://[^\s<>"']+`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)

	multiSpaceRe   = regexp.MustCompile(`[^\S\n]+`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// Preprocess runs the cleanup pipeline over extracted text. Stages are
// independent; a stage that cannot apply (bad custom pattern) is skipped
// so one misconfigured filter never blocks ingestion.
func Preprocess(text string, opts PreprocessOptions) string {
	text = normalizeUnicode(text)

	if opts.RemoveURLs {
		text = urlRe.ReplaceAllString(text, " ")
	}
	if opts.RemoveEmails {
		text = emailRe.ReplaceAllString(text, " ")
	}
	if opts.RemovePhones {
		text = phoneRe.ReplaceAllString(text, " ")
	}

	for _, pattern := range opts.CustomPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			slog.Warn("skipping invalid preprocess pattern", "pattern", pattern, "error", err)
			continue
		}
		text = re.ReplaceAllString(text, " ")
	}

	if opts.FilterSpecial {
		text = filterSpecial(text)
	}

	if len(opts.Stopwords) > 0 {
		text = removeStopwords(text, opts.Stopwords)
	}

	if opts.Lowercase {
		text = strings.ToLower(text)
	}

	return normalizeWhitespace(text)
}

// normalizeUnicode applies NFC, folds fullwidth forms to their halfwidth
// equivalents, and strips control and zero-width characters.
func normalizeUnicode(text string) string {
	text = norm.NFC.String(text)
	text = width.Fold.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// keptPunctuation survives special-character filtering.
const keptPunctuation = `.,!?;:'"()[]{}<>-_/%&+=@#` + "`" +
	"。，！？；：、（）【】《》「」“”‘’·"

// filterSpecial replaces characters outside letters, digits, whitespace,
// and basic punctuation with spaces. CJK text counts as letters.
func filterSpecial(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		case strings.ContainsRune(keptPunctuation, r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func removeStopwords(text string, stopwords []string) string {
	fieldStops := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		if containsCJK(w) {
			// No word boundaries to split on; remove the sequence itself.
			text = strings.ReplaceAll(text, w, "")
		} else {
			fieldStops[strings.ToLower(w)] = struct{}{}
		}
	}
	if len(fieldStops) == 0 {
		return text
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		fields := strings.Fields(line)
		kept := fields[:0]
		for _, f := range fields {
			if _, stop := fieldStops[strings.ToLower(strings.Trim(f, ".,!?;:"))]; !stop {
				kept = append(kept, f)
			}
		}
		lines[i] = strings.Join(kept, " ")
	}
	return strings.Join(lines, "\n")
}

func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// normalizeWhitespace collapses runs of spaces and blank lines while
// preserving paragraph breaks, which the structure splitter depends on.
func normalizeWhitespace(text string) string {
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
