// Package capability defines the closed set of capability flags an actor can
// declare, plus the numeric limits that participate in matching.
package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Flag is a single capability bit.
type Flag uint32

const (
	Dispatch Flag = 1 << iota
	Coordinate
	Review
	ContentReview
	CodeReview
	DraftRevision
	Summarize
)

var flagNames = map[Flag]string{
	Dispatch:      "dispatch",
	Coordinate:    "coordinate",
	Review:        "review",
	ContentReview: "content_review",
	CodeReview:    "code_review",
	DraftRevision: "draft_revision",
	Summarize:     "summarize",
}

// ErrUnknownFlag is returned when parsing a name that is not a known flag.
var ErrUnknownFlag = errors.New("unknown capability flag")

// String returns the wire name of a single flag.
func (f Flag) String() string {
	if n, ok := flagNames[f]; ok {
		return n
	}
	return fmt.Sprintf("flag(%d)", uint32(f))
}

// ParseFlag resolves a wire name to its flag.
func ParseFlag(name string) (Flag, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range flagNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFlag, name)
}

// All returns every known flag in bit order.
func All() []Flag {
	out := make([]Flag, 0, len(flagNames))
	for f := range flagNames {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Set is a statically typed capability declaration: a bitmask of flags and
// the numeric limits an actor advertises.
type Set struct {
	Flags              Flag
	MaxParallelReviews int
}

// Of builds a Set holding the given flags and no limits.
func Of(flags ...Flag) Set {
	var s Set
	for _, f := range flags {
		s.Flags |= f
	}
	return s
}

// With returns a copy of s with the given flags added.
func (s Set) With(flags ...Flag) Set {
	for _, f := range flags {
		s.Flags |= f
	}
	return s
}

// WithMaxParallelReviews returns a copy of s with the review limit set.
func (s Set) WithMaxParallelReviews(n int) Set {
	s.MaxParallelReviews = n
	return s
}

// Has reports whether every flag in f is present in s.
func (s Set) Has(f Flag) bool { return s.Flags&f == f }

// Satisfies reports whether s is a superset of required: every required flag
// is declared and every required limit is met or exceeded.
func (s Set) Satisfies(required Set) bool {
	if s.Flags&required.Flags != required.Flags {
		return false
	}
	return s.MaxParallelReviews >= required.MaxParallelReviews
}

// Len returns the number of flags declared.
func (s Set) Len() int { return bits.OnesCount32(uint32(s.Flags)) }

// Names returns the declared flag names in bit order.
func (s Set) Names() []string {
	var out []string
	for _, f := range All() {
		if s.Has(f) {
			out = append(out, f.String())
		}
	}
	return out
}

func (s Set) String() string {
	str := strings.Join(s.Names(), ",")
	if s.MaxParallelReviews > 0 {
		str += fmt.Sprintf(";max_parallel_reviews=%d", s.MaxParallelReviews)
	}
	return str
}

// Parse builds a Set from flag names.
func Parse(names []string) (Set, error) {
	var s Set
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		f, err := ParseFlag(n)
		if err != nil {
			return Set{}, err
		}
		s.Flags |= f
	}
	return s, nil
}

type wireSet struct {
	Flags              []string `json:"flags" yaml:"flags"`
	MaxParallelReviews int      `json:"max_parallel_reviews,omitempty" yaml:"max_parallel_reviews,omitempty"`
}

// MarshalJSON encodes the set as named flags.
func (s Set) MarshalJSON() ([]byte, error) {
	names := s.Names()
	if names == nil {
		names = []string{}
	}
	return json.Marshal(wireSet{Flags: names, MaxParallelReviews: s.MaxParallelReviews})
}

// UnmarshalJSON rejects unknown flag names.
func (s *Set) UnmarshalJSON(data []byte) error {
	var w wireSet
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := Parse(w.Flags)
	if err != nil {
		return err
	}
	parsed.MaxParallelReviews = w.MaxParallelReviews
	*s = parsed
	return nil
}

// UnmarshalYAML lets roster files declare capabilities by name.
func (s *Set) UnmarshalYAML(unmarshal func(any) error) error {
	var w wireSet
	if err := unmarshal(&w); err != nil {
		return err
	}
	parsed, err := Parse(w.Flags)
	if err != nil {
		return err
	}
	parsed.MaxParallelReviews = w.MaxParallelReviews
	*s = parsed
	return nil
}
