// Package related discovers videos related to a watched one by fanning out
// speculative searches and scoring how often and how strongly each result shows up.
package related

import (
	"sort"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// PromotionThreshold is the weight from which found_times starts to count.
const PromotionThreshold = 3

// Candidate is one related video gathered during a discovery batch.
type Candidate struct {
	Entry            engine.Entry // ShortEntry or VideoEntry
	FoundTimes       int
	Weight           float64
	EarliestPosition float64 // 0 = first item of a result set, approaching 1 = last
	Tiebreak         float64 // drawn once per batch
}

// Less orders candidates by weight, then by found_times when either weight
// reaches PromotionThreshold, then by the random tiebreak.
func Less(a, b *Candidate) bool {
	if a.Weight != b.Weight {
		return a.Weight < b.Weight
	}
	if max(a.Weight, b.Weight) >= PromotionThreshold && a.FoundTimes != b.FoundTimes {
		return a.FoundTimes < b.FoundTimes
	}
	return a.Tiebreak < b.Tiebreak
}

// Rank returns the candidates' entries best first.
func Rank(cands []*Candidate) []engine.Entry {
	sorted := append([]*Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })
	out := make([]engine.Entry, len(sorted))
	for i, c := range sorted {
		out[len(sorted)-1-i] = c.Entry
	}
	return out
}
