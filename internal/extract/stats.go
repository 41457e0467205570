package extract

import (
	"sort"
	"sync"
	"time"
)

// Operation labels recorded by Service.
const (
	OpExtract = "extract"
	OpAnalyze = "analyze"
)

type sample struct {
	timestamp  time.Time
	op         string
	durationMs int64
	failed     bool
}

// StatsSnapshot is a point-in-time aggregate of LLM latency samples.
type StatsSnapshot struct {
	Count    int     `json:"count"`
	Failures int     `json:"failures"`
	MinMs    int64   `json:"minMs"`
	MaxMs    int64   `json:"maxMs"`
	AvgMs    float64 `json:"avgMs"`
	P50Ms    float64 `json:"p50Ms"`
	P95Ms    float64 `json:"p95Ms"`
	P99Ms    float64 `json:"p99Ms"`
}

// StatsReport is the overall snapshot plus one per operation.
type StatsReport struct {
	StatsSnapshot
	WindowSeconds int                      `json:"windowSeconds"`
	ByOperation   map[string]StatsSnapshot `json:"byOperation"`
}

// LLMStats tracks recent LLM call latencies within a rolling window.
type LLMStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
	now     func() time.Time
}

func NewLLMStats(maxAge time.Duration) *LLMStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LLMStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Record adds one call. Failed calls count toward Failures and latency.
func (s *LLMStats) Record(op string, d time.Duration, err error) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		op:         op,
		durationMs: ms,
		failed:     err != nil,
	})
}

// Report aggregates the samples still inside the window.
func (s *LLMStats) Report() StatsReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.now())
	byOp := map[string][]sample{}
	for _, sm := range s.samples {
		byOp[sm.op] = append(byOp[sm.op], sm)
	}
	report := StatsReport{
		StatsSnapshot: aggregate(s.samples),
		WindowSeconds: int(s.maxAge.Seconds()),
		ByOperation:   make(map[string]StatsSnapshot, len(byOp)),
	}
	for op, list := range byOp {
		report.ByOperation[op] = aggregate(list)
	}
	return report
}

func aggregate(samples []sample) StatsSnapshot {
	if len(samples) == 0 {
		return StatsSnapshot{}
	}
	values := make([]int64, 0, len(samples))
	var sum int64
	failures := 0
	for _, sm := range samples {
		values = append(values, sm.durationMs)
		sum += sm.durationMs
		if sm.failed {
			failures++
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return StatsSnapshot{
		Count:    len(values),
		Failures: failures,
		MinMs:    values[0],
		MaxMs:    values[len(values)-1],
		AvgMs:    float64(sum) / float64(len(values)),
		P50Ms:    percentile(values, 50),
		P95Ms:    percentile(values, 95),
		P99Ms:    percentile(values, 99),
	}
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	if lower+1 >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[lower+1])
	return lo + ((hi - lo) * weight)
}
