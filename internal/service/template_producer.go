package service

import (
	"context"
	"sort"
	"strings"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/producer"
)

// TemplateProducer redrafts content with deterministic edits aimed at the
// criteria the panel scored lowest. It needs no external service and is the
// default producer for departments without an LLM backend.
type TemplateProducer struct {
	// Threshold is the mean criterion score below which an edit is applied.
	// Zero uses 60.
	Threshold float64
	// TargetWords bounds the length edits. Zero uses 150.
	TargetWords int
}

// Revise implements producer.Producer.
func (p *TemplateProducer) Revise(ctx context.Context, req producer.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	threshold := p.Threshold
	if threshold == 0 {
		threshold = 60
	}
	target := p.TargetWords
	if target <= 0 {
		target = 150
	}

	ss := sentences(req.Current.Content)
	for _, c := range weakCriteria(req.Results, threshold) {
		switch c {
		case review.CriterionRepetition:
			ss = dedupe(ss)
		case review.CriterionReadability:
			ss = splitLong(ss)
		case review.CriterionKeywords:
			if req.Task != nil {
				ss = coverKeywords(ss, req.Task.Input.Keywords)
			}
		case review.CriterionLength:
			ss = fitLength(ss, req, target)
		}
	}

	out := paragraphs(ss, 4)
	if out == strings.TrimSpace(req.Current.Content) && req.Task != nil && req.Task.Description != "" {
		// Make progress even when no edit applied.
		out += "\n\n" + strings.TrimSpace(req.Task.Description)
	}
	return out, nil
}

// weakCriteria returns criteria whose mean score across results is below
// threshold, weakest first.
func weakCriteria(results []review.Result, threshold float64) []string {
	sum := map[string]float64{}
	n := map[string]int{}
	for _, r := range results {
		for _, s := range r.Scores {
			sum[s.Criterion] += s.Score
			n[s.Criterion]++
		}
	}
	type weak struct {
		name string
		mean float64
	}
	var ws []weak
	for c, total := range sum {
		if m := total / float64(n[c]); m < threshold {
			ws = append(ws, weak{c, m})
		}
	}
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].mean != ws[j].mean {
			return ws[i].mean < ws[j].mean
		}
		return ws[i].name < ws[j].name
	})
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.name
	}
	return out
}

func dedupe(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	out := ss[:0:0]
	for _, s := range ss {
		k := strings.ToLower(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

// splitLong breaks sentences of more than 20 words at their first comma.
func splitLong(ss []string) []string {
	var out []string
	for _, s := range ss {
		i := strings.Index(s, ", ")
		if len(words(s)) <= 20 || i < 0 {
			out = append(out, s)
			continue
		}
		head := strings.TrimSpace(s[:i]) + "."
		tail := strings.TrimSpace(s[i+2:])
		if tail != "" {
			tail = strings.ToUpper(tail[:1]) + tail[1:]
		}
		out = append(out, head, tail)
	}
	return out
}

func coverKeywords(ss []string, keywords []string) []string {
	lower := strings.ToLower(strings.Join(ss, " "))
	var missing []string
	for _, k := range keywords {
		if !strings.Contains(lower, strings.ToLower(k)) {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return ss
	}
	return append(ss, "It also covers "+strings.Join(missing, ", ")+".")
}

// fitLength trims trailing sentences past target or extends the draft with
// the task description.
func fitLength(ss []string, req producer.Request, target int) []string {
	total := 0
	for i, s := range ss {
		total += len(words(s))
		if total > target && i > 0 {
			return ss[:i]
		}
	}
	if req.Task == nil {
		return ss
	}
	have := map[string]bool{}
	for _, s := range ss {
		have[strings.ToLower(s)] = true
	}
	for _, s := range sentences(req.Task.Description) {
		if total >= target {
			break
		}
		if !have[strings.ToLower(s)] {
			ss = append(ss, s)
			total += len(words(s))
		}
	}
	return ss
}

func paragraphs(ss []string, per int) string {
	var b strings.Builder
	for i, s := range ss {
		if i > 0 {
			if i%per == 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(s)
	}
	return b.String()
}
