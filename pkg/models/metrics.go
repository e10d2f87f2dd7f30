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

package models

import (
	"sync/atomic"
	"time"
)

// Metrics tracks per-instance usage counters. All fields are updated with
// atomic operations so recording never takes a lock on the hot path.
type Metrics struct {
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64

	// processingNanos accumulates wall time spent inside provider calls.
	processingNanos atomic.Int64

	// maxLatencyNanos tracks the slowest single call.
	maxLatencyNanos atomic.Int64

	// unitsProcessed counts provider-specific units: texts embedded,
	// documents reranked, tokens generated.
	unitsProcessed atomic.Int64

	lastUsedUnixNano atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters with derived
// rates, safe to serialize.
type MetricsSnapshot struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	MaxLatencyMs       float64 `json:"max_latency_ms"`
	UnitsProcessed     int64   `json:"units_processed"`
	LastUsed           string  `json:"last_used,omitempty"`
}

// Record registers one completed call.
func (m *Metrics) Record(elapsed time.Duration, units int, err error) {
	m.totalRequests.Add(1)
	if err != nil {
		m.failedRequests.Add(1)
	} else {
		m.successfulRequests.Add(1)
		m.unitsProcessed.Add(int64(units))
	}
	m.processingNanos.Add(int64(elapsed))
	m.lastUsedUnixNano.Store(time.Now().UnixNano())

	// CAS loop keeps the max monotone under concurrent updates.
	for {
		cur := m.maxLatencyNanos.Load()
		if int64(elapsed) <= cur {
			break
		}
		if m.maxLatencyNanos.CompareAndSwap(cur, int64(elapsed)) {
			break
		}
	}
}

// Snapshot returns a copy of the counters with derived values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	total := m.totalRequests.Load()
	snap := MetricsSnapshot{
		TotalRequests:      total,
		SuccessfulRequests: m.successfulRequests.Load(),
		FailedRequests:     m.failedRequests.Load(),
		MaxLatencyMs:       float64(m.maxLatencyNanos.Load()) / float64(time.Millisecond),
		UnitsProcessed:     m.unitsProcessed.Load(),
	}
	if total > 0 {
		snap.SuccessRate = float64(snap.SuccessfulRequests) / float64(total)
		snap.AvgLatencyMs = float64(m.processingNanos.Load()) / float64(total) / float64(time.Millisecond)
	}
	if last := m.lastUsedUnixNano.Load(); last > 0 {
		snap.LastUsed = time.Unix(0, last).UTC().Format(time.RFC3339)
	}
	return snap
}
