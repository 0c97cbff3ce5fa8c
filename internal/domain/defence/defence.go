// Package defence screens message content for prompt-injection attempts
// with a classifying Coordinator followed by an enforcing Guard.
package defence

import (
	"fmt"
	"regexp"
	"strings"
)

// Risk categories reported by the Coordinator and Guard.
const (
	CategoryOverride      = "override"
	CategoryExfil         = "exfil"
	CategoryObfuscation   = "obfuscation"
	CategoryToolJailbreak = "tool-jailbreak"
	CategoryMalware       = "malware"
	CategoryPolicy        = "policy"
	CategorySpoofing      = "spoofing"
	CategoryJailbreak     = "jailbreak"
	CategoryToolEscalate  = "tool-escalation"
)

// Decision is the Guard's verdict on one piece of content.
type Decision struct {
	Allowed         bool     `json:"allowed"`
	Categories      []string `json:"categories,omitempty"`
	Justification   string   `json:"justification"`
	RedactedContent string   `json:"redacted_content"`
}

type rule struct {
	category      string
	justification string
	match         func(lowered string) bool
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func containsAll(s string, needles ...string) bool {
	for _, n := range needles {
		if !strings.Contains(s, n) {
			return false
		}
	}
	return true
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{CategoryOverride, "Detected override attempt keywords", func(s string) bool {
		return containsAny(s, "forget previous", "ignore instructions", "ignore previous instructions", "override")
	}},
	{CategoryExfil, "Requests to download secrets", func(s string) bool {
		return containsAll(s, "download", "secret")
	}},
	{CategoryExfil, "Detected credential exfiltration request", func(s string) bool {
		return containsAny(s, "password=", "api key")
	}},
	{CategoryObfuscation, "Suspicious encoding hint", func(s string) bool {
		return containsAny(s, "base64", "rot13")
	}},
	{CategoryToolJailbreak, "Attempts to coerce unrestricted tool use", func(s string) bool {
		return containsAny(s, "trigger tool", "call any tool")
	}},
	{CategoryMalware, "Offensive security intent", func(s string) bool {
		return containsAny(s, "malware", "ddos", "ransomware")
	}},
	{CategoryPolicy, "Explicit policy bypass", func(s string) bool {
		return containsAll(s, "policy", "bypass")
	}},
	{CategorySpoofing, "Impersonation request", func(s string) bool {
		return containsAll(s, "act as", "engineer", "internal")
	}},
	{CategorySpoofing, "Attempts to impersonate leadership approval", func(s string) bool {
		return containsAll(s, "release manager", "approved")
	}},
	{CategoryJailbreak, "Classic jailbreak signature", func(s string) bool {
		return containsAny(s, "system prompt", "developer mode", "no rules")
	}},
}

// Coordinator classifies content into at most one risk category.
type Coordinator struct{}

// Classify returns the matched category ("" when clean) and a justification.
func (Coordinator) Classify(content string) (string, string) {
	lowered := strings.ToLower(content)
	for _, r := range rules {
		if r.match(lowered) {
			return r.category, r.justification
		}
	}
	return "", "No risk signals"
}

var redactions = []*regexp.Regexp{
	regexp.MustCompile(`api_key=[A-Za-z0-9_-]+`),
	regexp.MustCompile(`password\s*[:=]\s*\S+`),
}

// Guard blocks classified content and redacts credentials from clean content.
type Guard struct{}

// Enforce applies the block-or-redact policy for category.
func (Guard) Enforce(content, category string) Decision {
	if category != "" {
		return Decision{
			Allowed:         false,
			Categories:      []string{category},
			Justification:   fmt.Sprintf("Blocked due to %s risk", category),
			RedactedContent: "[[redacted: policy violation]]",
		}
	}
	redacted := content
	for _, re := range redactions {
		redacted = re.ReplaceAllString(redacted, "[[redacted]]")
	}
	return Decision{
		Allowed:         true,
		Justification:   "No policy violations detected",
		RedactedContent: redacted,
	}
}

// Screen runs the Coordinator and Guard end to end.
func Screen(content string) Decision {
	category, justification := Coordinator{}.Classify(content)
	d := Guard{}.Enforce(content, category)
	if category != "" {
		d.Justification = justification
	}
	return d
}

// ToolCall is a tool invocation proposed by an agent.
type ToolCall struct {
	Name string `json:"name"`
	Args string `json:"args"`
}

var dangerousTools = map[string]bool{"exec": true, "shell": true, "bash": true, "sh": true}

var dangerousArgs = []string{"rm -rf", "mkfs", "dd if=", "chmod 777", "curl | sh", "shutdown"}

// GuardToolCall rejects shell-capable tools invoked with destructive arguments.
func GuardToolCall(call ToolCall) Decision {
	name := strings.ToLower(call.Name)
	args := strings.ToLower(call.Args)
	if dangerousTools[name] && containsAny(args, dangerousArgs...) {
		return Decision{
			Allowed:         false,
			Categories:      []string{CategoryToolEscalate},
			Justification:   fmt.Sprintf("Tool %q invoked with destructive arguments", call.Name),
			RedactedContent: "[[redacted: tool call]]",
		}
	}
	d := Screen(call.Args)
	if !d.Allowed {
		return d
	}
	return Decision{Allowed: true, Justification: "Tool call permitted", RedactedContent: d.RedactedContent}
}
