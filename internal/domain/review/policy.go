package review

import (
	"errors"
	"time"
)

// Policy configures one department's review cycle.
type Policy struct {
	AcceptThreshold float64 `json:"accept_threshold" yaml:"accept_threshold"`
	RejectThreshold float64 `json:"reject_threshold" yaml:"reject_threshold"`
	// MinQuorum is the minimum number of usable results for a decision.
	MinQuorum int `json:"min_quorum" yaml:"min_quorum"`
	// PoolSize is how many reviewers are reserved per cycle.
	PoolSize int           `json:"pool_size" yaml:"pool_size"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	// EarlyQuorum stops collecting as soon as MinQuorum results arrived.
	EarlyQuorum bool `json:"early_quorum" yaml:"early_quorum"`
	// MaxParallel bounds concurrent review calls; 0 means PoolSize.
	MaxParallel       int                `json:"max_parallel" yaml:"max_parallel"`
	MaxRevisionCycles int                `json:"max_revision_cycles" yaml:"max_revision_cycles"`
	CriterionWeights  map[string]float64 `json:"criterion_weights,omitempty" yaml:"criterion_weights,omitempty"`
	ReviewerWeights   map[string]float64 `json:"reviewer_weights,omitempty" yaml:"reviewer_weights,omitempty"`
	// ScorePrecision is the number of decimals in the reported score.
	ScorePrecision int `json:"score_precision" yaml:"score_precision"`
}

// DefaultPolicy returns accept at 80, reject below 50, three reviewers with
// a quorum of two and three revision cycles.
func DefaultPolicy() Policy {
	return Policy{
		AcceptThreshold:   80,
		RejectThreshold:   50,
		MinQuorum:         2,
		PoolSize:          3,
		Timeout:           30 * time.Second,
		MaxRevisionCycles: 3,
		ScorePrecision:    1,
	}
}

var (
	ErrThresholdRange     = errors.New("thresholds must be within [0, 100]")
	ErrThresholdOrder     = errors.New("reject_threshold must not exceed accept_threshold")
	ErrQuorumTooSmall     = errors.New("min_quorum must be >= 1")
	ErrPoolBelowQuorum    = errors.New("pool_size must be >= min_quorum")
	ErrTimeoutRequired    = errors.New("timeout must be > 0")
	ErrMaxCyclesTooSmall  = errors.New("max_revision_cycles must be >= 1")
	ErrNegativeWeight     = errors.New("weights must be >= 0")
	ErrMaxParallelInvalid = errors.New("max_parallel must be >= 0")
)

// Validate checks the policy for consistency.
func (p *Policy) Validate() error {
	if p.AcceptThreshold < MinScore || p.AcceptThreshold > MaxScore ||
		p.RejectThreshold < MinScore || p.RejectThreshold > MaxScore {
		return ErrThresholdRange
	}
	if p.RejectThreshold > p.AcceptThreshold {
		return ErrThresholdOrder
	}
	if p.MinQuorum < 1 {
		return ErrQuorumTooSmall
	}
	if p.PoolSize < p.MinQuorum {
		return ErrPoolBelowQuorum
	}
	if p.Timeout <= 0 {
		return ErrTimeoutRequired
	}
	if p.MaxRevisionCycles < 1 {
		return ErrMaxCyclesTooSmall
	}
	if p.MaxParallel < 0 {
		return ErrMaxParallelInvalid
	}
	for _, w := range p.CriterionWeights {
		if w < 0 {
			return ErrNegativeWeight
		}
	}
	for _, w := range p.ReviewerWeights {
		if w < 0 {
			return ErrNegativeWeight
		}
	}
	return nil
}

// Parallelism returns the effective fan-out bound.
func (p *Policy) Parallelism() int {
	if p.MaxParallel > 0 && p.MaxParallel < p.PoolSize {
		return p.MaxParallel
	}
	return p.PoolSize
}
