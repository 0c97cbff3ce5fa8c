package intent

import (
	"math"
	"testing"
)

func TestDetectCIFlake(t *testing.T) {
	d := NewKeywordClassifier().Detect("CI failing with timeout on Windows")
	if len(d.Intents) != 1 || d.Intents[0] != CIFlake {
		t.Fatalf("intents = %v, want [ci_flake]", d.Intents)
	}
	if d.Confidence <= 0.5 {
		t.Errorf("confidence = %v, want > 0.5", d.Confidence)
	}
	// exp(0) / (exp(0) + 2*exp(-1))
	want := 1 / (1 + 2*math.Exp(-1))
	if math.Abs(d.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", d.Confidence, want)
	}
	if got := d.Evidence[CIFlake]; len(got) != 1 || got[0] != "timeout" {
		t.Errorf("evidence = %v", got)
	}
}

func TestDetectRanksByProbability(t *testing.T) {
	d := NewKeywordClassifier().Detect("cve exploit in the pytest fixture, rotation pending")
	if len(d.Intents) != 2 {
		t.Fatalf("intents = %v", d.Intents)
	}
	if d.Intents[0] != Security || d.Intents[1] != CIFlake {
		t.Errorf("ranking = %v, want [security ci_flake]", d.Intents)
	}
}

func TestDetectNoSignal(t *testing.T) {
	tests := []string{"", "   ", "lunch at noon?"}
	for _, in := range tests {
		d := NewKeywordClassifier().Detect(in)
		if len(d.Intents) != 0 || d.Confidence != 0 {
			t.Errorf("Detect(%q) = %+v, want empty", in, d)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Pytest-Rerun #42: FLAKE!")
	want := []string{"pytest", "rerun", "#42", "flake"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCustomLabels(t *testing.T) {
	c := NewKeywordClassifier(Label{Name: "deploy", Weights: map[string]float64{"rollback": 1}})
	d := c.Detect("please rollback")
	if len(d.Intents) != 1 || d.Intents[0] != "deploy" || d.Confidence != 1 {
		t.Errorf("detection = %+v", d)
	}
}
