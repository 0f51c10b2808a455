package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/capability"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
)

// Classifier derives the capabilities an actor needs to handle a task.
type Classifier interface {
	Classify(t *task.Task) (capability.Set, error)
}

// TableClassifier maps task types to capability sets.
type TableClassifier struct {
	routes map[string]capability.Set
}

// NewTableClassifier builds a classifier from task type to capability
// names. Type names are matched case-insensitively.
func NewTableClassifier(table map[string][]string) (*TableClassifier, error) {
	routes := make(map[string]capability.Set, len(table))
	for typ, names := range table {
		set, err := capability.Parse(names)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", typ, err)
		}
		if set.Flags == 0 {
			return nil, fmt.Errorf("route %q: no capabilities", typ)
		}
		routes[strings.ToLower(typ)] = set
	}
	return &TableClassifier{routes: routes}, nil
}

// DefaultRoutes is the routing table used when none is configured.
func DefaultRoutes() map[string][]string {
	return map[string][]string{
		"content":  {"coordinate", "content_review"},
		"code":     {"coordinate", "code_review"},
		"review":   {"review"},
		"draft":    {"draft_revision"},
		"summary":  {"summarize"},
		"dispatch": {"dispatch"},
	}
}

// Classify implements Classifier. Unknown types are routing failures.
func (c *TableClassifier) Classify(t *task.Task) (capability.Set, error) {
	set, ok := c.routes[strings.ToLower(t.Type)]
	if !ok {
		return capability.Set{}, domain.NewError(domain.KindRoutingFailure, "no route for task type %q", t.Type)
	}
	return set, nil
}

// Types returns the routable task types in sorted order.
func (c *TableClassifier) Types() []string {
	out := make([]string, 0, len(c.routes))
	for k := range c.routes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// domainFlag returns the review specialisation requested by a coordinator
// route, so reviewers can be matched to the same department.
func domainFlag(required capability.Set) capability.Flag {
	switch {
	case required.Has(capability.ContentReview):
		return capability.ContentReview
	case required.Has(capability.CodeReview):
		return capability.CodeReview
	}
	return 0
}
