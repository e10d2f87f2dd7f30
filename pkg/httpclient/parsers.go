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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseStandardRateLimitHeaders handles the Retry-After and X-RateLimit-*
// headers emitted by OpenAI-compatible APIs (OpenAI, SiliconFlow, Ollama
// behind proxies).
func ParseStandardRateLimitHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{
		RequestsRemaining: -1,
		TokensRemaining:   -1,
	}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		info.RetryAfter = parseRetryAfter(retryAfter)
	}

	if remaining := headers.Get("X-RateLimit-Remaining-Requests"); remaining != "" {
		if v, err := strconv.Atoi(remaining); err == nil {
			info.RequestsRemaining = v
		}
	}

	if remaining := headers.Get("X-RateLimit-Remaining-Tokens"); remaining != "" {
		if v, err := strconv.Atoi(remaining); err == nil {
			info.TokensRemaining = v
		}
	}

	if reset := headers.Get("X-RateLimit-Reset"); reset != "" {
		if v, err := strconv.ParseInt(reset, 10, 64); err == nil {
			info.ResetTime = v
		}
	}

	return info
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
