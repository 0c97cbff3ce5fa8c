// Package intent scores chat messages against incident labels.
package intent

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Labels known to the keyword classifier, in tie-break order.
const (
	CIFlake      = "ci_flake"
	Security     = "security"
	PolicyChange = "policy_change"
)

// Detection is the outcome of classifying one message.
type Detection struct {
	Intents    []string            `json:"intents"`
	Confidence float64             `json:"confidence"`
	Evidence   map[string][]string `json:"evidence,omitempty"`
}

// Classifier detects incident intents in free text.
type Classifier interface {
	Detect(content string) Detection
}

// Label is one intent with its keyword weights.
type Label struct {
	Name    string
	Weights map[string]float64
}

// KeywordClassifier ranks labels by a softmax over summed keyword weights.
type KeywordClassifier struct {
	labels []Label
}

// DefaultLabels is the built-in keyword table.
func DefaultLabels() []Label {
	return []Label{
		{Name: CIFlake, Weights: map[string]float64{
			"timeout": 1.0, "pytest": 0.8, "pipeline": 0.6, "rerun": 0.6, "flake": 0.9, "fixture": 0.5,
		}},
		{Name: Security, Weights: map[string]float64{
			"cve": 1.0, "exploit": 0.9, "patch": 0.6, "rotation": 0.4, "vuln": 0.9,
		}},
		{Name: PolicyChange, Weights: map[string]float64{
			"policy": 0.8, "privacy": 0.7, "legal": 0.6, "compliance": 0.9,
		}},
	}
}

// NewKeywordClassifier returns a classifier over labels, or DefaultLabels when empty.
func NewKeywordClassifier(labels ...Label) *KeywordClassifier {
	if len(labels) == 0 {
		labels = DefaultLabels()
	}
	return &KeywordClassifier{labels: labels}
}

var tokenPattern = regexp.MustCompile(`[a-z0-9_#]+`)

// Tokenize lowercases content and splits it into word tokens.
func Tokenize(content string) []string {
	return tokenPattern.FindAllString(strings.ToLower(content), -1)
}

// Detect returns positively scored labels ranked by probability and the top
// probability as confidence. No matching keyword yields an empty detection.
func (c *KeywordClassifier) Detect(content string) Detection {
	tokens := Tokenize(content)
	if len(tokens) == 0 {
		return Detection{}
	}

	raw := make([]float64, len(c.labels))
	evidence := make(map[string][]string)
	maxScore := 0.0
	for i, l := range c.labels {
		for _, tok := range tokens {
			w, ok := l.Weights[tok]
			if !ok || w == 0 {
				continue
			}
			raw[i] += w
			evidence[l.Name] = append(evidence[l.Name], tok)
		}
		if i == 0 || raw[i] > maxScore {
			maxScore = raw[i]
		}
	}
	if len(evidence) == 0 {
		return Detection{}
	}

	total := 0.0
	exp := make([]float64, len(raw))
	for i, s := range raw {
		exp[i] = math.Exp(s - maxScore)
		total += exp[i]
	}

	type ranked struct {
		idx  int
		prob float64
	}
	var positives []ranked
	for i, s := range raw {
		if s > 0 {
			positives = append(positives, ranked{idx: i, prob: exp[i] / total})
		}
	}
	sort.SliceStable(positives, func(a, b int) bool { return positives[a].prob > positives[b].prob })

	d := Detection{Evidence: evidence, Confidence: positives[0].prob}
	for _, r := range positives {
		d.Intents = append(d.Intents, c.labels[r.idx].Name)
	}
	return d
}

// Known reports whether name is one of the built-in labels.
func Known(name string) bool {
	switch name {
	case CIFlake, Security, PolicyChange:
		return true
	}
	return false
}
