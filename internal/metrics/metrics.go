// Package metrics holds the process-scoped performance counters. The state
// is explicit and injected; it resets only on process restart.
package metrics

import (
	"sync"
	"time"
)

// ring size for per-upstream response times.
const keepSamples = 100

type Metrics struct {
	mu             sync.Mutex
	totalRequests  int64
	successful     int64
	failed         int64
	geminiTimes    []float64
	freshchatTimes []float64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncTotal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
}

func (m *Metrics) MarkSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successful++
}

func (m *Metrics) MarkFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *Metrics) ObserveGemini(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geminiTimes = observe(m.geminiTimes, d)
}

func (m *Metrics) ObserveFreshchat(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freshchatTimes = observe(m.freshchatTimes, d)
}

func observe(samples []float64, d time.Duration) []float64 {
	samples = append(samples, d.Seconds())
	if len(samples) > keepSamples {
		samples = samples[len(samples)-keepSamples:]
	}
	return samples
}

// UpstreamStats summarizes the retained response-time samples of one
// upstream service.
type UpstreamStats struct {
	TotalRequests   int     `json:"total_requests"`
	AvgResponseTime float64 `json:"avg_response_time"`
	MinResponseTime float64 `json:"min_response_time"`
	MaxResponseTime float64 `json:"max_response_time"`
}

type Snapshot struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	SuccessRate        float64       `json:"success_rate"`
	Gemini             UpstreamStats `json:"gemini"`
	Freshchat          UpstreamStats `json:"freshchat"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.totalRequests
	if total == 0 {
		total = 1
	}
	return Snapshot{
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successful,
		FailedRequests:     m.failed,
		SuccessRate:        float64(m.successful) / float64(total) * 100,
		Gemini:             summarize(m.geminiTimes),
		Freshchat:          summarize(m.freshchatTimes),
	}
}

// Total returns the number of webhook requests accepted so far.
func (m *Metrics) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalRequests
}

func summarize(samples []float64) UpstreamStats {
	st := UpstreamStats{TotalRequests: len(samples)}
	if len(samples) == 0 {
		return st
	}
	st.MinResponseTime = samples[0]
	st.MaxResponseTime = samples[0]
	var sum float64
	for _, v := range samples {
		sum += v
		if v < st.MinResponseTime {
			st.MinResponseTime = v
		}
		if v > st.MaxResponseTime {
			st.MaxResponseTime = v
		}
	}
	st.AvgResponseTime = sum / float64(len(samples))
	return st
}
