package retry

import (
	"fmt"
	"sort"
)

// Stats is a snapshot of a handler's retry history.
type Stats struct {
	TotalOperations      int            `json:"total_operations"`
	SuccessfulOperations int            `json:"successful_operations"`
	FailedOperations     int            `json:"failed_operations"`
	SuccessRate          float64        `json:"success_rate"` // percent
	RetryDistribution    map[string]int `json:"retry_distribution"`
	CommonFailureTypes   map[string]int `json:"common_failure_types"` // top 5
}

// Stats returns retry statistics for diagnostics. The retry distribution
// buckets pages by how many retries they needed ("attempts_N"), with fully
// exhausted pages under "failed".
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		RetryDistribution:  make(map[string]int),
		CommonFailureTypes: make(map[string]int),
	}
	s.TotalOperations = len(h.counts)
	if s.TotalOperations == 0 {
		return s
	}

	for _, count := range h.counts {
		if count <= h.opts.MaxRetries {
			s.SuccessfulOperations++
			s.RetryDistribution[fmt.Sprintf("attempts_%d", count)]++
		} else {
			s.RetryDistribution["failed"]++
		}
	}
	s.FailedOperations = s.TotalOperations - s.SuccessfulOperations
	s.SuccessRate = float64(s.SuccessfulOperations) / float64(s.TotalOperations) * 100

	// Top 5 failure types by frequency.
	typeCounts := make(map[string]int)
	for _, reasons := range h.failures {
		for _, r := range reasons {
			typeCounts[failureType(r)]++
		}
	}
	type tc struct {
		name  string
		count int
	}
	sorted := make([]tc, 0, len(typeCounts))
	for name, count := range typeCounts {
		sorted = append(sorted, tc{name, count})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].name < sorted[j].name
	})
	for i, t := range sorted {
		if i >= 5 {
			break
		}
		s.CommonFailureTypes[t.name] = t.count
	}
	return s
}
