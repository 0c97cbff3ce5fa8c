package run

import "github.com/overhearops/overhearops/internal/domain/trace"

// Context carries per-run identity and collectors to every stage. It is
// passed explicitly rather than through globals so concurrent runs never
// share a recorder.
type Context struct {
	RunID    string
	ThreadID string
	Mode     string
	Provider string
	Trace    *trace.Recorder
}

// NewContext builds a run context with a fresh recorder.
func NewContext(runID, threadID, mode, provider string) Context {
	return Context{
		RunID:    runID,
		ThreadID: threadID,
		Mode:     mode,
		Provider: provider,
		Trace:    trace.NewRecorder(),
	}
}
