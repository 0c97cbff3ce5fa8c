// Package persona holds the static role catalog used to staff a run and to
// review its plans.
package persona

import (
	"sort"

	"github.com/overhearops/overhearops/internal/domain/intent"
)

// Role identifies a team seat.
type Role string

const (
	Coordinator Role = "Coordinator"
	Fixer       Role = "Fixer"
	Critic      Role = "Critic"
	RiskGuard   Role = "RiskGuard"
)

// Profile describes the persona filling a role.
type Profile struct {
	Role    Role     `json:"role"`
	Persona string   `json:"persona"`
	Focus   string   `json:"focus"`
	Skills  []string `json:"skills"`
	Tools   []string `json:"tools"`
}

// Catalog lists every role profile in seating order.
var Catalog = []Profile{
	{Role: Coordinator, Persona: "Incident Strategist", Focus: "Frames hypotheses and sequencing", Skills: []string{"triage", "timeline"}},
	{Role: Fixer, Persona: "Senior Reliability Engineer", Focus: "Owns code-level mitigation", Skills: []string{"python", "profiling"}},
	{Role: Critic, Persona: "QA Skeptic", Focus: "Surfaces blast radius and edge cases", Skills: []string{"test review", "risk mapping"}},
	{Role: RiskGuard, Persona: "Compliance Analyst", Focus: "Checks policy and governance constraints", Skills: []string{"policy", "audit"}},
}

// Reviewers is the fixed judge panel order.
var Reviewers = []Role{Coordinator, Critic, RiskGuard}

var specialisms = map[string]map[Role][]string{
	intent.CIFlake: {
		Coordinator: {"pytest triage"},
		Fixer:       {"asyncio", "perf"},
		Critic:      {"determinism"},
		RiskGuard:   {"release policy"},
	},
	intent.Security: {
		Coordinator: {"incident comms"},
		Fixer:       {"patch", "rotations"},
		Critic:      {"threat model"},
		RiskGuard:   {"exposure classification"},
	},
	intent.PolicyChange: {
		Coordinator: {"stakeholder map"},
		Fixer:       {"doc update"},
		Critic:      {"customer impact"},
		RiskGuard:   {"regulatory"},
	},
}

var skillTools = map[string][]string{
	"pytest triage":  {"pytest", "coverage"},
	"asyncio":        {"py-spy"},
	"perf":           {"scalene"},
	"determinism":    {"flake-finder"},
	"release policy": {"runbook"},
	"patch":          {"git"},
	"rotations":      {"vault-cli"},
	"threat model":   {"threatspec"},
	"incident comms": {"statuspage"},
	"doc update":     {"confluence"},
}

// ComposeTeam staffs every catalog role for the leading intent, adding its
// specialisms and the tools they need. Skills and tools are sorted and
// de-duplicated. Unknown or missing intents staff for ci_flake.
func ComposeTeam(intents []string) []Profile {
	key := intent.CIFlake
	if len(intents) > 0 {
		key = intents[0]
	}
	spec, ok := specialisms[key]
	if !ok {
		spec = specialisms[intent.CIFlake]
	}

	team := make([]Profile, 0, len(Catalog))
	for _, p := range Catalog {
		skills := uniqueSorted(append(append([]string{}, p.Skills...), spec[p.Role]...))
		var tools []string
		for _, s := range skills {
			tools = append(tools, skillTools[s]...)
		}
		team = append(team, Profile{
			Role:    p.Role,
			Persona: p.Persona,
			Focus:   p.Focus,
			Skills:  skills,
			Tools:   uniqueSorted(tools),
		})
	}
	return team
}

func uniqueSorted(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
