package plan

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/overhearops/overhearops/internal/domain/intent"
)

//go:embed plans.yaml
var defaultLibrary []byte

// Library maps an incident category to plan templates in preference order.
type Library map[string][]Plan

// DefaultLibrary returns the built-in template library.
func DefaultLibrary() Library {
	lib, err := ParseLibrary(defaultLibrary)
	if err != nil {
		panic(fmt.Sprintf("embedded plan library: %v", err))
	}
	return lib
}

// ParseLibrary decodes a YAML template library and validates every plan.
func ParseLibrary(data []byte) (Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parse plan library: %w", err)
	}
	for category, plans := range lib {
		seen := make(map[string]bool, len(plans))
		for i := range plans {
			plans[i].BlastRadius = ParseBlastRadius(string(plans[i].BlastRadius))
			if err := plans[i].Validate(); err != nil {
				return nil, fmt.Errorf("category %s: %w", category, err)
			}
			if seen[plans[i].ID] {
				return nil, fmt.Errorf("category %s: %w: %s", category, ErrDuplicatePlanID, plans[i].ID)
			}
			seen[plans[i].ID] = true
		}
	}
	return lib, nil
}

// Templates returns copies of the templates for category.
func (l Library) Templates(category string) []Plan {
	src := l[category]
	out := make([]Plan, len(src))
	for i, p := range src {
		out[i] = p.Clone()
	}
	return out
}

// ResolveCategory picks the library category for a run: the first detected
// intent the library knows, otherwise a keyword heuristic over content.
func (l Library) ResolveCategory(intents []string, content string) string {
	if len(intents) > 0 {
		if _, ok := l[intents[0]]; ok {
			return intents[0]
		}
	}
	return CategoryFromContent(content)
}

// CategoryFromContent maps message text to a category by keyword.
func CategoryFromContent(content string) string {
	c := strings.ToLower(content)
	switch {
	case containsAny(c, "cve", "exploit", "rotation"):
		return intent.Security
	case containsAny(c, "policy", "regulation", "privacy"):
		return intent.PolicyChange
	default:
		return intent.CIFlake
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
