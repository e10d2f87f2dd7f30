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

package retrieval

import (
	"math"
	"strings"
	"unicode"
)

// tokenize splits text into lowercase word tokens. CJK runes become
// single-rune tokens, which keeps Chinese queries scoreable without a
// segmenter.
func tokenize(text string) []string {
	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, strings.ToLower(word.String()))
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// keywordScores assigns each document a lexical relevance score in [0,1]:
// the IDF-weighted overlap between the query tokens and the document,
// normalized by the best score in the candidate pool. IDF is computed over
// the pool itself, so a term every candidate shares contributes little.
func keywordScores(query string, documents []string) []float64 {
	scores := make([]float64, len(documents))
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || len(documents) == 0 {
		return scores
	}

	docSets := make([]map[string]struct{}, len(documents))
	for i, doc := range documents {
		docSets[i] = tokenSet(tokenize(doc))
	}

	n := float64(len(documents))
	idf := make(map[string]float64, len(queryTokens))
	for _, t := range queryTokens {
		if _, done := idf[t]; done {
			continue
		}
		df := 0.0
		for _, set := range docSets {
			if _, ok := set[t]; ok {
				df++
			}
		}
		idf[t] = math.Log(1 + n/(1+df))
	}

	maxScore := 0.0
	for i, set := range docSets {
		seen := make(map[string]struct{}, len(queryTokens))
		for _, t := range queryTokens {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			if _, ok := set[t]; ok {
				scores[i] += idf[t]
			}
		}
		if scores[i] > maxScore {
			maxScore = scores[i]
		}
	}

	if maxScore > 0 {
		for i := range scores {
			scores[i] /= maxScore
		}
	}
	return scores
}
