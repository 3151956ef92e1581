// Package eligibility decides whether a promotion's reserved badges satisfy
// its requirement template. Evaluate is a pure function: it is safe to call
// as a live preview on a draft and again as the submission gate.
package eligibility

import (
	"github.com/meritflow/meritflow/internal/models"
)

// RuleStatus reports one template rule with the number of badges allocated
// to it.
type RuleStatus struct {
	Category models.BadgeCategory `json:"category"`
	Level    models.BadgeLevel    `json:"level"`
	Required int                  `json:"required"`
	Matched  int                  `json:"matched"`
}

// Result is the outcome of one evaluation. Satisfied always lists every
// rule; Missing lists only the unmet ones with their shortfalls.
type Result struct {
	Valid     bool                   `json:"valid"`
	Satisfied []RuleStatus           `json:"satisfied"`
	Missing   []models.RuleShortfall `json:"missing,omitempty"`
}

type pool struct {
	Category models.BadgeCategory
	Level    models.BadgeLevel
}

// categoryOrder fixes the draw order for "any" rules so evaluation is
// deterministic regardless of input ordering.
var categoryOrder = []models.BadgeCategory{
	models.CategoryTechnical,
	models.CategoryOrganizational,
	models.CategorySoftskilled,
}

// Evaluate matches badges against tmpl.Rules. Matching is exact on both
// category and level; gold never substitutes for silver. A badge instance
// satisfies at most one rule. When a badge could satisfy both an "any" rule
// and a specific-category rule at the same level, specific rules are
// allocated first and "any" rules draw from whatever remains.
func Evaluate(tmpl models.RequirementTemplate, badges []models.BadgeApplication) Result {
	remaining := make(map[pool]int, len(badges))
	for _, b := range badges {
		remaining[pool{b.Category, b.Level}]++
	}

	matched := make([]int, len(tmpl.Rules))

	// Specific-category rules first.
	for i, rule := range tmpl.Rules {
		if rule.Category == models.CategoryAny {
			continue
		}
		key := pool{rule.Category, rule.Level}
		take := min(rule.Count, remaining[key])
		remaining[key] -= take
		matched[i] = take
	}

	// "any" rules draw the leftovers at their level, across all categories.
	for i, rule := range tmpl.Rules {
		if rule.Category != models.CategoryAny {
			continue
		}
		need := rule.Count
		for _, cat := range categoryOrder {
			if need == 0 {
				break
			}
			key := pool{cat, rule.Level}
			take := min(need, remaining[key])
			remaining[key] -= take
			need -= take
		}
		matched[i] = rule.Count - need
	}

	res := Result{Valid: true}
	for i, rule := range tmpl.Rules {
		res.Satisfied = append(res.Satisfied, RuleStatus{
			Category: rule.Category,
			Level:    rule.Level,
			Required: rule.Count,
			Matched:  matched[i],
		})
		if matched[i] < rule.Count {
			res.Valid = false
			res.Missing = append(res.Missing, models.RuleShortfall{
				Category: rule.Category,
				Level:    rule.Level,
				Missing:  rule.Count - matched[i],
			})
		}
	}
	return res
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
