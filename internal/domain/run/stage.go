// Package run defines the state threaded through the pipeline, the per-run
// context and the persisted run record.
package run

// Stage names a pipeline step.
type Stage string

const (
	StageDetect      Stage = "detect"
	StageComposeTeam Stage = "compose_team"
	StageForkPlans   Stage = "fork_plans"
	StageExecute     Stage = "execute"
	StageJudge       Stage = "judge"
	StageGate        Stage = "gate"
	StageFinalize    Stage = "finalize"
)

// Stages is the fixed pipeline order.
var Stages = []Stage{
	StageDetect,
	StageComposeTeam,
	StageForkPlans,
	StageExecute,
	StageJudge,
	StageGate,
	StageFinalize,
}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s.Index() >= 0 }
