package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/Strob0t/ReviewForge/internal/domain/diff"
	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
)

// RubricReviewer scores content with deterministic text heuristics. It is
// stateless and safe for concurrent use.
type RubricReviewer struct {
	// ID is stamped on every result as the reviewer ID.
	ID string
	// Bias shifts every criterion score before clamping. Panels of
	// differently biased reviewers model reviewer disagreement.
	Bias float64
	// Latency delays the answer. The delay honours ctx.
	Latency time.Duration
}

type scorer func(text string, rubric review.Rubric) (float64, string)

var scorers = map[string]scorer{
	review.CriterionLength:      scoreLength,
	review.CriterionReadability: scoreReadability,
	review.CriterionStructure:   scoreStructure,
	review.CriterionKeywords:    scoreKeywords,
	review.CriterionRepetition:  scoreRepetition,
}

// Review implements reviewer.Reviewer.
func (r *RubricReviewer) Review(ctx context.Context, rev draft.Revision, rubric review.Rubric) (review.Result, error) {
	start := time.Now()
	if len(rubric.Criteria) == 0 {
		rubric = review.DefaultRubric()
	}

	if r.Latency > 0 {
		timer := time.NewTimer(r.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return review.Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	res := review.Result{
		ID:         uuid.New().String(),
		TaskID:     rev.TaskID,
		RevisionID: rev.ID,
		ReviewerID: r.ID,
		Scores:     make([]review.CriterionScore, 0, len(rubric.Criteria)),
	}
	for _, c := range rubric.Criteria {
		if err := ctx.Err(); err != nil {
			return review.Result{}, err
		}
		fn, ok := scorers[c.Name]
		if !ok {
			return review.Result{}, fmt.Errorf("unknown criterion %q", c.Name)
		}
		score, hint := fn(rev.Content, rubric)
		score = review.Clamp(math.Round(score + r.Bias))
		res.Scores = append(res.Scores, review.CriterionScore{Criterion: c.Name, Score: score})
		if score < rubric.NeedsImprovement && hint != "" {
			res.Suggestions = append(res.Suggestions, hint)
		}
	}
	res.Aggregate = review.Mean(res.Scores)
	res.LatencyMS = time.Since(start).Milliseconds()
	res.CreatedAt = time.Now().UTC()
	return res, nil
}

func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func sentences(text string) []string {
	var out []string
	for _, s := range diff.Tokenize(text, diff.GranularitySentence) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// scoreLength compares the word count to the rubric target.
func scoreLength(text string, rubric review.Rubric) (float64, string) {
	n := len(words(text))
	target := rubric.TargetWords
	if target <= 0 {
		return 100, ""
	}
	if n == 0 {
		return 0, fmt.Sprintf("Write roughly %d words.", target)
	}
	ratio := float64(min(n, target)) / float64(max(n, target))
	if n < target {
		return 100 * ratio, fmt.Sprintf("Expand the content toward %d words (currently %d).", target, n)
	}
	return 100 * ratio, fmt.Sprintf("Tighten the content toward %d words (currently %d).", target, n)
}

// scoreReadability rewards an average sentence length of 8 to 20 words.
func scoreReadability(text string, _ review.Rubric) (float64, string) {
	ss := sentences(text)
	if len(ss) == 0 {
		return 0, "Write complete sentences."
	}
	avg := float64(len(words(text))) / float64(len(ss))
	switch {
	case avg > 20:
		return 100 - 4*(avg-20), "Split long sentences."
	case avg < 8:
		return 100 - 8*(8-avg), "Combine very short sentences."
	}
	return 100, ""
}

// scoreStructure expects one paragraph per 120 words.
func scoreStructure(text string, _ review.Rubric) (float64, string) {
	n := len(words(text))
	if n == 0 {
		return 0, "Add content organised into paragraphs."
	}
	want := int(math.Ceil(float64(n) / 120))
	paras := 0
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(p) != "" {
			paras++
		}
	}
	if paras >= want {
		return 100, ""
	}
	return 100 * float64(paras) / float64(want), "Break the content into more paragraphs."
}

// scoreKeywords is the share of required keywords present.
func scoreKeywords(text string, rubric review.Rubric) (float64, string) {
	if len(rubric.Keywords) == 0 {
		return 100, ""
	}
	lower := strings.ToLower(text)
	var missing []string
	for _, k := range rubric.Keywords {
		if !strings.Contains(lower, strings.ToLower(k)) {
			missing = append(missing, k)
		}
	}
	found := len(rubric.Keywords) - len(missing)
	score := 100 * float64(found) / float64(len(rubric.Keywords))
	if len(missing) == 0 {
		return score, ""
	}
	return score, "Cover the missing keywords: " + strings.Join(missing, ", ") + "."
}

// scoreRepetition penalises repeated sentences.
func scoreRepetition(text string, _ review.Rubric) (float64, string) {
	ss := sentences(text)
	if len(ss) == 0 {
		return 100, ""
	}
	seen := make(map[string]bool, len(ss))
	for _, s := range ss {
		seen[strings.ToLower(s)] = true
	}
	if len(seen) == len(ss) {
		return 100, ""
	}
	return 100 * float64(len(seen)) / float64(len(ss)), "Remove repeated sentences."
}
