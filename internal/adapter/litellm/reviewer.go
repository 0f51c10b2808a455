package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/producer"
)

const reviewSystemPrompt = `You are a strict content reviewer. Score the draft on each listed criterion from 0 to 100.
Reply with a single JSON object and nothing else:
{"scores": {"<criterion>": <number>, ...}, "suggestions": ["<short actionable suggestion>", ...]}`

// Reviewer scores revisions by asking a model through LiteLLM.
type Reviewer struct {
	Client *Client
	Model  string
	// ID is stamped on every result as the reviewer ID.
	ID string
}

type reviewReply struct {
	Scores      map[string]float64 `json:"scores"`
	Suggestions []string           `json:"suggestions"`
}

// Review implements reviewer.Reviewer.
func (r *Reviewer) Review(ctx context.Context, rev draft.Revision, rubric review.Rubric) (review.Result, error) {
	start := time.Now()
	if len(rubric.Criteria) == 0 {
		rubric = review.DefaultRubric()
	}
	zero := 0.0
	content, err := r.Client.ChatCompletion(ctx, ChatRequest{
		Model: r.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: reviewSystemPrompt},
			{Role: "user", Content: reviewPrompt(rev, rubric)},
		},
		Temperature:    &zero,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return review.Result{}, fmt.Errorf("review revision %s: %w", rev.ID, err)
	}

	var reply reviewReply
	if err := json.Unmarshal([]byte(extractJSON(content)), &reply); err != nil {
		return review.Result{}, fmt.Errorf("parse review reply: %w", err)
	}

	res := review.Result{
		ID:          uuid.New().String(),
		TaskID:      rev.TaskID,
		RevisionID:  rev.ID,
		ReviewerID:  r.ID,
		Scores:      make([]review.CriterionScore, 0, len(rubric.Criteria)),
	}
	weak := false
	for _, c := range rubric.Criteria {
		s, ok := reply.Scores[c.Name]
		if !ok {
			return review.Result{}, fmt.Errorf("review reply is missing criterion %q", c.Name)
		}
		score := review.Clamp(math.Round(s))
		res.Scores = append(res.Scores, review.CriterionScore{Criterion: c.Name, Score: score})
		if score < rubric.NeedsImprovement {
			weak = true
		}
	}
	// Suggestions only make sense when some criterion needs improvement.
	if weak {
		res.Suggestions = reply.Suggestions
	}
	res.Aggregate = review.Mean(res.Scores)
	res.LatencyMS = time.Since(start).Milliseconds()
	res.CreatedAt = time.Now().UTC()
	return res, nil
}

func reviewPrompt(rev draft.Revision, rubric review.Rubric) string {
	var b strings.Builder
	b.WriteString("Criteria:\n")
	for _, c := range rubric.Criteria {
		b.WriteString("- ")
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(": ")
			b.WriteString(c.Description)
		}
		b.WriteByte('\n')
	}
	if len(rubric.Keywords) > 0 {
		fmt.Fprintf(&b, "Required keywords: %s\n", strings.Join(rubric.Keywords, ", "))
	}
	if rubric.TargetWords > 0 {
		fmt.Fprintf(&b, "Target length: about %d words\n", rubric.TargetWords)
	}
	b.WriteString("\nDraft:\n")
	b.WriteString(rev.Content)
	return b.String()
}

// extractJSON returns the outermost JSON object in s, tolerating code
// fences and prose around it.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// Producer redrafts content by asking a model through LiteLLM.
type Producer struct {
	Client *Client
	Model  string
}

// Revise implements producer.Producer.
func (p *Producer) Revise(ctx context.Context, req producer.Request) (string, error) {
	var b strings.Builder
	if req.Task != nil {
		fmt.Fprintf(&b, "Task: %s\n", req.Task.Title)
		if req.Task.Description != "" {
			fmt.Fprintf(&b, "Brief: %s\n", req.Task.Description)
		}
	}
	fmt.Fprintf(&b, "Current score: %.1f\n", req.Consensus.CombinedScore)
	if s := req.Suggestions(); len(s) > 0 {
		b.WriteString("Reviewer suggestions:\n")
		for _, line := range s {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	b.WriteString("\nDraft:\n")
	b.WriteString(req.Current.Content)

	content, err := p.Client.ChatCompletion(ctx, ChatRequest{
		Model: p.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: "Rewrite the draft to address the reviewer suggestions. Reply with the revised draft only."},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("revise draft %d: %w", req.Current.Number, err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
