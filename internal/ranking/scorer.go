package ranking

import (
	"math"
	"strings"
	"time"

	"github.com/spigell/autoapply/internal/job"
	"github.com/spigell/autoapply/internal/resume"
)

const defaultHalflifeHours = 48

// ScorerConfig tunes the scoring function. Boost maps go from a lowercase
// substring to a multiplier applied when the substring occurs in the posting
// title or location.
type ScorerConfig struct {
	RecencyHalflifeHours float64            `mapstructure:"recency-halflife-hours"`
	TitleBoosts          map[string]float64 `mapstructure:"title-boosts"`
	LocationBoosts       map[string]float64 `mapstructure:"location-boosts"`
}

// Scorer computes the relevance of a posting for one resume profile. The
// score is a pure function of (posting, profile, evaluation time).
type Scorer struct {
	profile *resume.Profile
	cfg     ScorerConfig
}

// Candidate pairs a posting with its score and the skills that produced it.
type Candidate struct {
	Posting *job.Posting
	Score   float64
	Matched []string
}

func NewScorer(profile *resume.Profile, cfg ScorerConfig) *Scorer {
	if cfg.RecencyHalflifeHours <= 0 {
		cfg.RecencyHalflifeHours = defaultHalflifeHours
	}

	return &Scorer{profile: profile, cfg: cfg}
}

// Score evaluates a posting at the given time. The result is the weighted
// Jaccard overlap between the resume skills and the posting tokens, decayed
// by posting age and adjusted by the configured boosts, clamped to [0, 1].
func (s *Scorer) Score(posting *job.Posting, now time.Time) Candidate {
	overlap, matched := s.overlap(posting)

	ageHours := now.Sub(posting.PostedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	decay := math.Exp(-ageHours / s.cfg.RecencyHalflifeHours)

	score := overlap * decay
	score *= boost(s.cfg.TitleBoosts, posting.Title)
	score *= boost(s.cfg.LocationBoosts, posting.Location)

	return Candidate{
		Posting: posting,
		Score:   clamp01(score),
		Matched: matched,
	}
}

// overlap is a weighted Jaccard: sum of min weights over the union divided by
// the sum of max weights. Posting weights are vocabulary-token frequencies.
func (s *Scorer) overlap(posting *job.Posting) (float64, []string) {
	counts := make(map[string]float64)
	for _, token := range resume.Tokenize(posting.Title + " " + posting.Description) {
		if _, ok := s.profile.Skills[token]; ok {
			counts[token]++
		}
	}

	var intersection, union float64
	var matched []string

	for skill, weight := range s.profile.Skills {
		postingWeight := counts[skill]
		intersection += math.Min(weight, postingWeight)
		union += math.Max(weight, postingWeight)
		if postingWeight > 0 {
			matched = append(matched, skill)
		}
	}

	if union == 0 {
		return 0, nil
	}

	return intersection / union, matched
}

func boost(multipliers map[string]float64, text string) float64 {
	result := 1.0
	lowered := strings.ToLower(text)
	for substring, multiplier := range multipliers {
		if strings.Contains(lowered, strings.ToLower(substring)) {
			result *= multiplier
		}
	}
	return result
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
