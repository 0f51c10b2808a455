// Package diff computes structured change sets between two versions of
// textual content.
//
// Content is split into atomic units (sentences or lines). Units are aligned
// with a longest-common-subsequence pass; unmatched units are then classified
// as moves, modifications, additions or deletions. Applying a Result to the
// text it was computed from reproduces the newer text exactly.
package diff

// Granularity selects the atomic unit used for alignment.
type Granularity string

const (
	GranularitySentence Granularity = "sentence"
	GranularityLine     Granularity = "line"
)

// Kind classifies a change record.
type Kind string

const (
	KindAdd    Kind = "add"
	KindDelete Kind = "delete"
	KindModify Kind = "modify"
	KindMove   Kind = "move"
)

// Severity is the coarse size of a change.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// Range is a half-open span of unit indices.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of units covered.
func (r Range) Len() int { return r.End - r.Start }

// Location places a change in both versions. For an add the Before range is
// empty and marks the insertion point; for a delete the After range is empty.
type Location struct {
	Before Range `json:"before"`
	After  Range `json:"after"`
}

// Change is one record of the wire format.
type Change struct {
	Kind       Kind     `json:"kind"`
	Location   Location `json:"location"`
	Before     string   `json:"before"`
	After      string   `json:"after"`
	Severity   Severity `json:"severity"`
	Similarity float64  `json:"similarity,omitempty"`
}

// Result is the ordered change list between two versions.
type Result struct {
	Granularity Granularity `json:"granularity"`
	Changes     []Change    `json:"changes"`
	// Pad is set when neither version ended in whitespace. Both were then
	// diffed with Pad appended, and records reaching the end of a version
	// quote it without the padding.
	Pad string `json:"pad,omitempty"`
}

// Empty reports whether the two versions were identical.
func (r Result) Empty() bool { return len(r.Changes) == 0 }

// Count returns how many changes of kind k the result holds.
func (r Result) Count(k Kind) int {
	n := 0
	for _, c := range r.Changes {
		if c.Kind == k {
			n++
		}
	}
	return n
}

// Stats summarizes a result by kind and severity.
type Stats struct {
	Adds     int `json:"adds"`
	Deletes  int `json:"deletes"`
	Modifies int `json:"modifies"`
	Moves    int `json:"moves"`
	Major    int `json:"major"`
	Minor    int `json:"minor"`
}

// Summarize tallies the change list.
func (r Result) Summarize() Stats {
	var s Stats
	for _, c := range r.Changes {
		switch c.Kind {
		case KindAdd:
			s.Adds++
		case KindDelete:
			s.Deletes++
		case KindModify:
			s.Modifies++
		case KindMove:
			s.Moves++
		}
		if c.Severity == SeverityMajor {
			s.Major++
		} else {
			s.Minor++
		}
	}
	return s
}
