package review

import (
	"math"
	"sort"
	"time"
)

// Decision is the three-way consensus outcome.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionRevise Decision = "revise"
	DecisionReject Decision = "reject"
)

// Terminal reports whether the decision ends the revision loop.
func (d Decision) Terminal() bool { return d == DecisionAccept || d == DecisionReject }

// Consensus is the reduction of a result set for one revision.
type Consensus struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	RevisionID    string    `json:"revision_id"`
	Cycle         int       `json:"cycle"`
	CombinedScore float64   `json:"combined_score"`
	Decision      Decision  `json:"decision"`
	ReviewerCount int       `json:"reviewer_count"`
	QuorumMet     bool      `json:"quorum_met"`
	Reviewers     []string  `json:"reviewers"`
	TimedOut      []string  `json:"timed_out,omitempty"`
	Failed        []string  `json:"failed,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Aggregate reduces results under policy p. It is pure: the outcome depends
// only on the set of results and the policy, never on slice order.
//
// Each result contributes its criterion-weighted score (its own aggregate
// when no criterion weights are configured), and results are combined by a
// reviewer-weighted mean. Decisions use the unrounded score; the reported
// CombinedScore is rounded to p.ScorePrecision decimals, so a reported score
// equal to the accept threshold can still carry a revise decision.
func Aggregate(results []Result, p Policy) Consensus {
	sorted := make([]Result, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ReviewerID != sorted[j].ReviewerID {
			return sorted[i].ReviewerID < sorted[j].ReviewerID
		}
		return sorted[i].ID < sorted[j].ID
	})

	var sum, weights float64
	reviewers := make([]string, 0, len(sorted))
	for _, r := range sorted {
		w := 1.0
		if rw, ok := p.ReviewerWeights[r.ReviewerID]; ok {
			w = rw
		}
		sum += w * resultScore(r, p.CriterionWeights)
		weights += w
		reviewers = append(reviewers, r.ReviewerID)
	}

	var combined float64
	if weights > 0 {
		combined = sum / weights
	}

	c := Consensus{
		CombinedScore: roundTo(combined, p.ScorePrecision),
		ReviewerCount: len(sorted),
		QuorumMet:     len(sorted) >= p.MinQuorum,
		Reviewers:     reviewers,
	}
	c.Decision = decide(combined, c.QuorumMet, p)
	return c
}

func decide(score float64, quorum bool, p Policy) Decision {
	switch {
	case !quorum:
		return DecisionRevise
	case score >= p.AcceptThreshold:
		return DecisionAccept
	case score < p.RejectThreshold:
		return DecisionReject
	default:
		return DecisionRevise
	}
}

// resultScore applies criterion weights to one result. Criteria without a
// configured weight count once.
func resultScore(r Result, cw map[string]float64) float64 {
	if len(cw) == 0 || len(r.Scores) == 0 {
		return r.Aggregate
	}
	var sum, weights float64
	for _, s := range r.Scores {
		w := 1.0
		if v, ok := cw[s.Criterion]; ok {
			w = v
		}
		sum += w * s.Score
		weights += w
	}
	if weights == 0 {
		return r.Aggregate
	}
	return sum / weights
}

func roundTo(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
