package diff

import (
	"fmt"
	"strings"

	"github.com/Strob0t/ReviewForge/internal/domain"
)

// Apply replays r against before and returns the newer text. Changes that
// do not line up with before yield a diff computation error.
func Apply(before string, r Result) (string, error) {
	if len(r.Changes) == 0 {
		return before, nil
	}
	g := r.Granularity
	if g == "" {
		g = GranularitySentence
	}
	pad := r.Pad
	if pad != "" && endsWithSpace(before) {
		return "", domain.NewError(domain.KindDiffComputation, "padded result does not match a base ending in whitespace")
	}
	a := Tokenize(before, g)
	if pad != "" && len(a) > 0 {
		a[len(a)-1] += pad
	}

	consumed := make([]bool, len(a))
	produced := 0
	for i, c := range r.Changes {
		b := c.Location.Before
		if c.Kind != KindAdd {
			if b.Start < 0 || b.End > len(a) || b.Start >= b.End {
				return "", applyError(i, "before range %d:%d out of bounds", b.Start, b.End)
			}
			want := c.Before
			if pad != "" && b.End == len(a) {
				want += pad
			}
			if strings.Join(a[b.Start:b.End], "") != want {
				return "", applyError(i, "before text does not match")
			}
			for k := b.Start; k < b.End; k++ {
				if consumed[k] {
					return "", applyError(i, "unit %d consumed twice", k)
				}
				consumed[k] = true
			}
		}
		if c.Kind != KindDelete {
			if c.Location.After.Len() <= 0 {
				return "", applyError(i, "empty after range")
			}
			produced += c.Location.After.Len()
		}
	}

	var kept []string
	for k, u := range a {
		if !consumed[k] {
			kept = append(kept, u)
		}
	}

	n := len(kept) + produced
	slots := make([]string, n)
	filled := make([]bool, n)
	for i, c := range r.Changes {
		if c.Kind == KindDelete {
			continue
		}
		ar := c.Location.After
		if ar.Start < 0 || ar.End > n {
			return "", applyError(i, "after range %d:%d out of bounds", ar.Start, ar.End)
		}
		for k := ar.Start; k < ar.End; k++ {
			if filled[k] {
				return "", applyError(i, "after slot %d written twice", k)
			}
			filled[k] = true
		}
		text := c.After
		if pad != "" && ar.End == n {
			text += pad
		}
		slots[ar.Start] = text
	}

	next := 0
	for k := range slots {
		if filled[k] {
			continue
		}
		slots[k] = kept[next]
		next++
	}
	out := strings.Join(slots, "")
	if pad != "" {
		if !strings.HasSuffix(out, pad) {
			return "", domain.NewError(domain.KindDiffComputation, "rebuilt text does not end with the padding")
		}
		out = strings.TrimSuffix(out, pad)
	}
	return out, nil
}

func applyError(i int, format string, args ...any) error {
	return domain.NewError(domain.KindDiffComputation, "change %d: %s", i, fmt.Sprintf(format, args...))
}
