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
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// decodeText converts raw file bytes to a UTF-8 string. UTF-8 is accepted
// as-is; otherwise the common Chinese encodings are tried before falling
// back to latin-1, which accepts any byte sequence.
func decodeText(data []byte) (string, error) {
	data = stripBOM(data)

	if utf8.Valid(data) {
		return string(data), nil
	}

	candidates := []struct {
		name string
		enc  encoding.Encoding
	}{
		{"gbk", simplifiedchinese.GBK},
		{"gb18030", simplifiedchinese.GB18030},
		{"latin-1", charmap.ISO8859_1},
	}

	for _, candidate := range candidates {
		decoded, err := candidate.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		// Decoders substitute U+FFFD for bytes they cannot map; treat
		// that as a miss and try the next encoding.
		if bytes.ContainsRune(decoded, utf8.RuneError) {
			continue
		}
		return string(decoded), nil
	}

	return "", fmt.Errorf("unable to decode text with any supported encoding")
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
