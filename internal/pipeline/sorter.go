// internal/pipeline/sorter.go
package pipeline

import (
	"sort"
)

// RulePredicate matches against a RequestProfile. Zero-valued fields match
// anything, so a rule only constrains the fields it sets.
type RulePredicate struct {
	ContentKind      string `yaml:"content_kind"`
	MinSize          int64  `yaml:"min_size"`
	Complexity       string `yaml:"complexity"`
	RequiresAuth     *bool  `yaml:"requires_auth"`
	EndpointCategory string `yaml:"endpoint_category"`
}

// Matches reports whether the profile satisfies every set field.
func (p RulePredicate) Matches(profile RequestProfile) bool {
	if p.ContentKind != "" && p.ContentKind != profile.ContentKind.String() {
		return false
	}
	if p.MinSize > 0 && profile.Size < p.MinSize {
		return false
	}
	if p.Complexity != "" && p.Complexity != profile.Complexity.String() {
		return false
	}
	if p.RequiresAuth != nil && *p.RequiresAuth != profile.RequiresAuth {
		return false
	}
	if p.EndpointCategory != "" && p.EndpointCategory != profile.EndpointCategory {
		return false
	}
	return true
}

// RelevanceRule adjusts a validator's cost when the request profile makes it
// unusually relevant (multiplier < 1, runs earlier) or irrelevant
// (multiplier > 1, runs later). Rules are data supplied at construction; new
// validators participate by registering rules, not by changing sorter code.
// A rule addresses one validator by name or a group by tag.
type RelevanceRule struct {
	When       RulePredicate `yaml:"when"`
	Validator  string        `yaml:"validator"`
	Tag        string        `yaml:"tag"`
	Multiplier float64       `yaml:"multiplier"`
}

func (r RelevanceRule) appliesTo(v *registered) bool {
	if r.Validator != "" {
		return r.Validator == v.name()
	}
	if r.Tag != "" {
		return v.tags[r.Tag]
	}
	return false
}

// Sorter produces the per-request validator ordering from static cost
// scores plus request-specific relevance adjustments. Ordering is fully
// deterministic: ties break by declared priority, then by name.
type Sorter struct {
	rules []RelevanceRule
}

// NewSorter creates a sorter with the given relevance rules.
func NewSorter(rules []RelevanceRule) *Sorter {
	return &Sorter{rules: rules}
}

// Order returns the validators sorted ascending by adjusted cost. The input
// slice is not modified. O(n log n) in validator count; on the critical
// path.
func (s *Sorter) Order(validators []*registered, scores map[string]float64, profile RequestProfile) []*registered {
	type scored struct {
		v    *registered
		cost float64
	}

	items := make([]scored, len(validators))
	for i, v := range validators {
		cost, ok := scores[v.name()]
		if !ok {
			cost = defaultBaseScore
		}
		for _, rule := range s.rules {
			if rule.Multiplier > 0 && rule.appliesTo(v) && rule.When.Matches(profile) {
				cost *= rule.Multiplier
			}
		}
		items[i] = scored{v: v, cost: cost}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].cost != items[j].cost {
			return items[i].cost < items[j].cost
		}
		if items[i].v.v.Priority() != items[j].v.v.Priority() {
			return items[i].v.v.Priority() < items[j].v.v.Priority()
		}
		return items[i].v.name() < items[j].v.name()
	})

	ordered := make([]*registered, len(items))
	for i, it := range items {
		ordered[i] = it.v
	}
	return ordered
}
