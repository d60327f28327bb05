package ranking

import (
	"sort"
	"time"

	"github.com/spigell/autoapply/internal/job"
)

// Ranker orders scored candidates and applies the attempt-exclusion rule.
// Exclude is consulted per fingerprint; a nil Exclude keeps everything.
type Ranker struct {
	scorer   *Scorer
	priority map[string]int
	exclude  func(fingerprint string) bool
}

// NewRanker builds a ranker. sourcePriority is the configured source order;
// earlier sources win score ties.
func NewRanker(scorer *Scorer, sourcePriority []string, exclude func(string) bool) *Ranker {
	priority := make(map[string]int, len(sourcePriority))
	for i, name := range sourcePriority {
		priority[name] = i
	}

	return &Ranker{
		scorer:   scorer,
		priority: priority,
		exclude:  exclude,
	}
}

// TopK scores the postings at the given time and returns up to n candidates,
// best first. The order is a stable total order: score desc, then posted
// desc, then source priority, then fingerprint.
func (r *Ranker) TopK(postings *job.Postings, n int, now time.Time) []Candidate {
	candidates := make([]Candidate, 0, postings.Len())
	for _, posting := range postings.Items {
		if r.exclude != nil && r.exclude(posting.Fingerprint()) {
			continue
		}
		candidates = append(candidates, r.scorer.Score(posting, now))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Posting.PostedAt.Equal(b.Posting.PostedAt) {
			return a.Posting.PostedAt.After(b.Posting.PostedAt)
		}
		if pa, pb := r.sourceRank(a.Posting.Source), r.sourceRank(b.Posting.Source); pa != pb {
			return pa < pb
		}
		return a.Posting.Fingerprint() < b.Posting.Fingerprint()
	})

	if n >= 0 && len(candidates) > n {
		candidates = candidates[:n]
	}

	return candidates
}

func (r *Ranker) sourceRank(name string) int {
	if rank, ok := r.priority[name]; ok {
		return rank
	}
	return len(r.priority)
}
