package diff

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Strob0t/ReviewForge/internal/domain"
)

// Options tunes the engine.
type Options struct {
	Granularity Granularity `json:"granularity" yaml:"granularity"`
	// MaxUnits bounds the unit count of either side.
	MaxUnits int `json:"max_units" yaml:"max_units"`
	// ModifyThreshold is the minimum similarity for two unmatched units to be
	// reported as one modification instead of a delete and an add.
	ModifyThreshold float64 `json:"modify_threshold" yaml:"modify_threshold"`
	// MinorThreshold is the changed-character fraction below which a
	// modification is minor.
	MinorThreshold float64 `json:"minor_threshold" yaml:"minor_threshold"`
}

// DefaultOptions returns sentence granularity with a 0.5 modify threshold and
// the 20% minor/major boundary.
func DefaultOptions() Options {
	return Options{
		Granularity:     GranularitySentence,
		MaxUnits:        2000,
		ModifyThreshold: 0.5,
		MinorThreshold:  0.2,
	}
}

// pairWindow bounds how far ahead in a hunk a deleted unit looks for a
// similar inserted unit.
const pairWindow = 16

// Engine computes diffs. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	opts Options
}

// NewEngine returns an engine, filling zero options with defaults.
func NewEngine(opts Options) *Engine {
	def := DefaultOptions()
	if opts.Granularity == "" {
		opts.Granularity = def.Granularity
	}
	if opts.MaxUnits <= 0 {
		opts.MaxUnits = def.MaxUnits
	}
	if opts.ModifyThreshold <= 0 {
		opts.ModifyThreshold = def.ModifyThreshold
	}
	if opts.MinorThreshold <= 0 {
		opts.MinorThreshold = def.MinorThreshold
	}
	return &Engine{opts: opts}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// Compute diffs with the default options.
func Compute(before, after string) (Result, error) {
	return NewEngine(Options{}).Compute(before, after)
}

// Compute returns the change list turning before into after.
func (e *Engine) Compute(before, after string) (Result, error) {
	res := Result{Granularity: e.opts.Granularity, Changes: []Change{}}

	if !utf8.ValidString(before) || !utf8.ValidString(after) {
		return res, domain.NewError(domain.KindDiffComputation, "input is not valid UTF-8")
	}
	if before == after {
		return res, nil
	}
	if strings.TrimSpace(before) == "" || strings.TrimSpace(after) == "" {
		return res, domain.NewError(domain.KindDiffComputation, "cannot diff against empty content")
	}

	a := Tokenize(before, e.opts.Granularity)
	b := Tokenize(after, e.opts.Granularity)
	if len(a) > e.opts.MaxUnits || len(b) > e.opts.MaxUnits {
		return res, domain.NewError(domain.KindDiffComputation,
			"content too large: %d/%d units exceeds limit %d", len(a), len(b), e.opts.MaxUnits)
	}

	// When neither text ends in whitespace the final units lack the
	// separator every other unit carries. Extend both so a unit moving into
	// or out of the last position keeps its identity.
	var pad string
	if !endsWithSpace(before) && !endsWithSpace(after) {
		pad = separatorOf(a, e.opts.Granularity)
		a[len(a)-1] += pad
		b[len(b)-1] += pad
	}

	ops := align(a, b)
	hunks := collectHunks(ops)
	moves := detectMoves(hunks, a, b)

	var changes []Change
	for _, o := range ops {
		if o.kind == opEqual && a[o.ai] != b[o.bi] {
			changes = append(changes, Change{
				Kind:       KindModify,
				Location:   Location{Before: Range{o.ai, o.ai + 1}, After: Range{o.bi, o.bi + 1}},
				Before:     a[o.ai],
				After:      b[o.bi],
				Severity:   SeverityMinor,
				Similarity: 1,
			})
		}
	}
	for _, h := range hunks {
		changes = append(changes, e.classify(h, a, b, moves)...)
	}
	sort.SliceStable(changes, func(i, j int) bool {
		ci, cj := changes[i], changes[j]
		if ci.Location.After.Start != cj.Location.After.Start {
			return ci.Location.After.Start < cj.Location.After.Start
		}
		if ci.Location.Before.Start != cj.Location.Before.Start {
			return ci.Location.Before.Start < cj.Location.Before.Start
		}
		return kindRank(ci.Kind) < kindRank(cj.Kind)
	})
	res.Changes = stripPad(coalesce(changes), pad, len(a), len(b))
	if len(res.Changes) > 0 {
		res.Pad = pad
	}
	return res, nil
}

// separatorOf returns the whitespace that follows the next-to-last unit,
// falling back to a space or newline for single-unit texts.
func separatorOf(units []string, g Granularity) string {
	if n := len(units); n >= 2 {
		u := units[n-2]
		if sep := u[len(strings.TrimRightFunc(u, unicode.IsSpace)):]; sep != "" {
			return sep
		}
	}
	if g == GranularityLine {
		return "\n"
	}
	return " "
}

// stripPad removes the padding from record text that reaches the end of
// either version, so records quote the texts as given.
func stripPad(changes []Change, pad string, na, nb int) []Change {
	if pad == "" {
		return changes
	}
	for i := range changes {
		c := &changes[i]
		if c.Kind != KindAdd && c.Location.Before.End == na {
			c.Before = strings.TrimSuffix(c.Before, pad)
		}
		if c.Kind != KindDelete && c.Location.After.End == nb {
			c.After = strings.TrimSuffix(c.After, pad)
		}
	}
	return changes
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(r)
}

type opKind int8

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

// op is one alignment step. ai and bi are the unit positions in each side at
// the time of the step; for a delete bi is the insertion point in b and for
// an insert ai is the insertion point in a.
type op struct {
	kind   opKind
	ai, bi int
}

// align returns an LCS alignment over units compared without surrounding
// whitespace. Common prefix and suffix are stripped before the quadratic pass.
func align(a, b []string) []op {
	ids := make(map[string]int32, len(a)+len(b))
	intern := func(units []string) []int32 {
		out := make([]int32, len(units))
		for i, u := range units {
			key := strings.TrimSpace(u)
			id, ok := ids[key]
			if !ok {
				id = int32(len(ids))
				ids[key] = id
			}
			out[i] = id
		}
		return out
	}
	x, y := intern(a), intern(b)

	pre := 0
	for pre < len(x) && pre < len(y) && x[pre] == y[pre] {
		pre++
	}
	suf := 0
	for suf < len(x)-pre && suf < len(y)-pre && x[len(x)-1-suf] == y[len(y)-1-suf] {
		suf++
	}

	ops := make([]op, 0, len(x)+len(y))
	for i := 0; i < pre; i++ {
		ops = append(ops, op{kind: opEqual, ai: i, bi: i})
	}

	mx, my := x[pre:len(x)-suf], y[pre:len(y)-suf]
	n, m := len(mx), len(my)
	w := m + 1
	dp := make([]int32, (n+1)*(m+1))
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if mx[i] == my[j] {
				dp[i*w+j] = dp[(i+1)*w+j+1] + 1
			} else if dp[(i+1)*w+j] >= dp[i*w+j+1] {
				dp[i*w+j] = dp[(i+1)*w+j]
			} else {
				dp[i*w+j] = dp[i*w+j+1]
			}
		}
	}

	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && mx[i] == my[j]:
			ops = append(ops, op{kind: opEqual, ai: pre + i, bi: pre + j})
			i++
			j++
		case j == m || (i < n && dp[(i+1)*w+j] >= dp[i*w+j+1]):
			ops = append(ops, op{kind: opDelete, ai: pre + i, bi: pre + j})
			i++
		default:
			ops = append(ops, op{kind: opInsert, ai: pre + i, bi: pre + j})
			j++
		}
	}

	for k := 0; k < suf; k++ {
		ops = append(ops, op{kind: opEqual, ai: len(x) - suf + k, bi: len(y) - suf + k})
	}
	return ops
}

// hunk is a maximal run of non-equal alignment steps.
type hunk struct {
	dels []op
	ins  []op
}

func collectHunks(ops []op) []hunk {
	var hunks []hunk
	var cur *hunk
	for _, o := range ops {
		if o.kind == opEqual {
			cur = nil
			continue
		}
		if cur == nil {
			hunks = append(hunks, hunk{})
			cur = &hunks[len(hunks)-1]
		}
		if o.kind == opDelete {
			cur.dels = append(cur.dels, o)
		} else {
			cur.ins = append(cur.ins, o)
		}
	}
	return hunks
}

// moveSet pairs deleted a-units with inserted b-units that carry the same
// text in a different hunk.
type moveSet struct {
	byA map[int]int
	byB map[int]int
}

func detectMoves(hunks []hunk, a, b []string) moveSet {
	ms := moveSet{byA: map[int]int{}, byB: map[int]int{}}
	for hi, h := range hunks {
		for _, d := range h.dels {
			key := strings.TrimSpace(a[d.ai])
			if key == "" {
				continue
			}
		search:
			for hj, other := range hunks {
				if hj == hi {
					continue
				}
				for _, in := range other.ins {
					if _, used := ms.byB[in.bi]; used {
						continue
					}
					if strings.TrimSpace(b[in.bi]) == key {
						ms.byA[d.ai] = in.bi
						ms.byB[in.bi] = d.ai
						break search
					}
				}
			}
		}
	}
	return ms
}

// classify turns one hunk into change records. Moved-away units are skipped
// here; the move is reported where the unit landed.
func (e *Engine) classify(h hunk, a, b []string, ms moveSet) []Change {
	var dels, ins []op
	for _, d := range h.dels {
		if _, moved := ms.byA[d.ai]; !moved {
			dels = append(dels, d)
		}
	}
	for _, in := range h.ins {
		if _, moved := ms.byB[in.bi]; !moved {
			ins = append(ins, in)
		}
	}

	var out []Change
	paired := make(map[int]bool, len(ins))
	next := 0
	for _, d := range dels {
		matched := false
		for k := next; k < len(ins) && k < next+pairWindow; k++ {
			sim := Similarity(a[d.ai], b[ins[k].bi])
			if sim < e.opts.ModifyThreshold {
				continue
			}
			out = append(out, Change{
				Kind:       KindModify,
				Location:   Location{Before: Range{d.ai, d.ai + 1}, After: Range{ins[k].bi, ins[k].bi + 1}},
				Before:     a[d.ai],
				After:      b[ins[k].bi],
				Severity:   e.severity(1 - sim),
				Similarity: round4(sim),
			})
			paired[k] = true
			next = k + 1
			matched = true
			break
		}
		if !matched {
			out = append(out, Change{
				Kind:     KindDelete,
				Location: Location{Before: Range{d.ai, d.ai + 1}, After: Range{d.bi, d.bi}},
				Before:   a[d.ai],
				Severity: SeverityMajor,
			})
		}
	}
	for k, in := range ins {
		if paired[k] {
			continue
		}
		out = append(out, Change{
			Kind:     KindAdd,
			Location: Location{Before: Range{in.ai, in.ai}, After: Range{in.bi, in.bi + 1}},
			After:    b[in.bi],
			Severity: SeverityMajor,
		})
	}
	for _, in := range h.ins {
		src, moved := ms.byB[in.bi]
		if !moved {
			continue
		}
		out = append(out, Change{
			Kind:       KindMove,
			Location:   Location{Before: Range{src, src + 1}, After: Range{in.bi, in.bi + 1}},
			Before:     a[src],
			After:      b[in.bi],
			Severity:   SeverityMinor,
			Similarity: 1,
		})
	}
	return out
}

func (e *Engine) severity(changed float64) Severity {
	if changed < e.opts.MinorThreshold {
		return SeverityMinor
	}
	return SeverityMajor
}

// coalesce merges runs of adjacent adds, deletes and moves into spans.
func coalesce(changes []Change) []Change {
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if n := len(out); n > 0 && mergeable(out[n-1], c) {
			prev := &out[n-1]
			prev.Location.Before.End = c.Location.Before.End
			prev.Location.After.End = c.Location.After.End
			prev.Before += c.Before
			prev.After += c.After
			continue
		}
		out = append(out, c)
	}
	return out
}

func mergeable(prev, cur Change) bool {
	if prev.Kind != cur.Kind {
		return false
	}
	pb, pa := prev.Location.Before, prev.Location.After
	cb, ca := cur.Location.Before, cur.Location.After
	switch cur.Kind {
	case KindAdd:
		return pb == cb && pa.End == ca.Start
	case KindDelete:
		return pa == ca && pb.End == cb.Start
	case KindMove:
		return pb.End == cb.Start && pa.End == ca.Start
	}
	return false
}

func kindRank(k Kind) int {
	switch k {
	case KindDelete:
		return 0
	case KindModify:
		return 1
	case KindMove:
		return 2
	default:
		return 3
	}
}

func round4(f float64) float64 { return math.Round(f*1e4) / 1e4 }
