package agent

import (
	"sync"
	"time"
)

// LayerRecord is one appended execution metric. Records are never mutated
// after creation.
type LayerRecord struct {
	Layer    string
	TaskID   string
	Duration time.Duration
	Success  bool
	At       time.Time
}

// LayerStats aggregates records for a single layer.
type LayerStats struct {
	Total     int
	Success   int
	Failed    int
	TotalTime time.Duration
}

// CallStats tracks LLM call statistics.
type CallStats struct {
	Total     int64
	Success   int64
	Failed    int64
	TotalTime time.Duration
}

// Metrics collects executor metrics for later inspection.
type Metrics interface {
	RecordLLMCall(duration time.Duration, success bool)
	RecordLayerExecution(record LayerRecord)
	RecordCompaction(originalCount, newCount int)
	// Recent returns the most recent layer records, newest first.
	Recent(n int) []LayerRecord
	// PerLayer aggregates all layer records by layer name.
	PerLayer() map[string]LayerStats
	LLMCalls() CallStats
	Compactions() int64
	Reset()
}

// NoOpMetrics discards all metrics.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordLLMCall(time.Duration, bool) {}
func (NoOpMetrics) RecordLayerExecution(LayerRecord)  {}
func (NoOpMetrics) RecordCompaction(int, int)         {}
func (NoOpMetrics) Recent(int) []LayerRecord          { return nil }
func (NoOpMetrics) PerLayer() map[string]LayerStats   { return nil }
func (NoOpMetrics) LLMCalls() CallStats               { return CallStats{} }
func (NoOpMetrics) Compactions() int64                { return 0 }
func (NoOpMetrics) Reset()                            {}

// InMemoryMetrics is a thread-safe in-memory collector. Layer records are
// append-only and queryable by recency or aggregated per layer.
type InMemoryMetrics struct {
	mu          sync.RWMutex
	llmCalls    CallStats
	records     []LayerRecord
	compactions int64
}

// NewInMemoryMetrics creates an empty collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

func (m *InMemoryMetrics) RecordLLMCall(duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llmCalls.Total++
	if success {
		m.llmCalls.Success++
	} else {
		m.llmCalls.Failed++
	}
	m.llmCalls.TotalTime += duration
}

func (m *InMemoryMetrics) RecordLayerExecution(record LayerRecord) {
	if record.At.IsZero() {
		record.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
}

func (m *InMemoryMetrics) RecordCompaction(originalCount, newCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactions++
}

func (m *InMemoryMetrics) Recent(n int) []LayerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.records) {
		n = len(m.records)
	}
	out := make([]LayerRecord, 0, n)
	for i := len(m.records) - 1; i >= len(m.records)-n; i-- {
		out = append(out, m.records[i])
	}
	return out
}

func (m *InMemoryMetrics) PerLayer() map[string]LayerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]LayerStats)
	for _, rec := range m.records {
		stats := out[rec.Layer]
		stats.Total++
		if rec.Success {
			stats.Success++
		} else {
			stats.Failed++
		}
		stats.TotalTime += rec.Duration
		out[rec.Layer] = stats
	}
	return out
}

func (m *InMemoryMetrics) LLMCalls() CallStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.llmCalls
}

func (m *InMemoryMetrics) Compactions() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.compactions
}

func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llmCalls = CallStats{}
	m.records = nil
	m.compactions = 0
}
