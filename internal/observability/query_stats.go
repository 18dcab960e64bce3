// Package observability provides Prometheus metrics and per-statement query
// statistics.
package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/spaolacci/murmur3"
)

const maxSampleLen = 240

// QueryStats tracks how often each distinct statement runs and how long it
// takes. Statements are grouped by Fingerprint.
type QueryStats struct {
	mu      sync.RWMutex
	entries map[uint64]*StatementStats
	window  time.Duration
	now     func() time.Time
}

// StatementStats holds statistics for one statement fingerprint.
type StatementStats struct {
	Fingerprint   string        `json:"fingerprint"`
	Sample        string        `json:"sample"`
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration_ns"`
	MaxDuration   time.Duration `json:"max_duration_ns"`
	LastSeen      time.Time     `json:"last_seen"`
}

// MeanDuration returns the average run time.
func (s StatementStats) MeanDuration() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Count)
}

// NewQueryStats creates a new query statistics tracker.
// window: entries not seen for longer than this are dropped by Prune.
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		entries: make(map[uint64]*StatementStats),
		window:  window,
		now:     time.Now,
	}
}

// Fingerprint hashes a statement with case and whitespace differences
// removed.
func Fingerprint(query string) uint64 {
	return murmur3.Sum64([]byte(normalizeStatement(query)))
}

func normalizeStatement(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Record adds one execution of query.
func (q *QueryStats) Record(query string, d time.Duration, err error) {
	fp := Fingerprint(query)

	q.mu.Lock()
	defer q.mu.Unlock()

	stats, exists := q.entries[fp]
	if !exists {
		sample := strings.Join(strings.Fields(query), " ")
		sample = truncate(sample, maxSampleLen)
		stats = &StatementStats{
			Fingerprint: fmt.Sprintf("%016x", fp),
			Sample:      sample,
		}
		q.entries[fp] = stats
	}

	stats.Count++
	if err != nil {
		stats.Errors++
	}
	stats.TotalDuration += d
	if d > stats.MaxDuration {
		stats.MaxDuration = d
	}
	stats.LastSeen = q.now()
}

// Top returns copies of the n most frequent statements.
func (q *QueryStats) Top(n int) []StatementStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.entries) == 0 {
		return []StatementStats{}
	}

	stats := make([]StatementStats, 0, len(q.entries))
	for _, s := range q.entries {
		stats = append(stats, *s)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Fingerprint < stats[j].Fingerprint
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Len returns the number of tracked fingerprints.
func (q *QueryStats) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Prune removes entries where time.Since(LastSeen) > window.
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := q.now().Add(-q.window)
	for fp, stats := range q.entries {
		if stats.LastSeen.Before(threshold) {
			delete(q.entries, fp)
		}
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
