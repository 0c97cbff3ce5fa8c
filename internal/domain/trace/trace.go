// Package trace records per-stage execution facts for a run and derives the
// run fingerprint and action graph from them.
package trace

import (
	"encoding/json"
	"sync"
)

// Attribute keys written by the stage middleware.
const (
	AttrRole        = "agent.role"
	AttrThreadID    = "thread.id"
	AttrBranchID    = "branch.id"
	AttrApproxIn    = "token.approx_in"
	AttrApproxOut   = "token.approx_out"
	AttrStatus      = "stage.status"
	AttrRunID       = "run.id"
	AttrTraceID     = "trace.id"
	AttrSpanID      = "span.id"
	AttrStartUnixNs = "time.start_unix_nano"
	AttrEndUnixNs   = "time.end_unix_nano"
	AttrDurationMs  = "duration_ms"
	AttrError       = "error"
)

// Status values for AttrStatus.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// stableKeys are the attributes that contribute to the run fingerprint.
var stableKeys = map[string]bool{
	AttrRole:      true,
	AttrThreadID:  true,
	AttrBranchID:  true,
	AttrApproxIn:  true,
	AttrApproxOut: true,
	AttrStatus:    true,
}

// IsStable reports whether key participates in the run fingerprint.
func IsStable(key string) bool { return stableKeys[key] }

// Record is one stage invocation. Attribute values are scalars.
type Record struct {
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
}

// Recorder accumulates records for one run. Safe for concurrent use by
// fan-out branches.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewRecorder returns an empty recorder, optionally seeded with records
// from an earlier attempt.
func NewRecorder(seed ...Record) *Recorder {
	r := &Recorder{}
	for _, rec := range seed {
		r.records = append(r.records, cloneRecord(rec))
	}
	return r
}

// Add appends a record.
func (r *Recorder) Add(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, cloneRecord(rec))
	r.mu.Unlock()
}

// Records returns a snapshot in emission order.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	for i, rec := range r.records {
		out[i] = cloneRecord(rec)
	}
	return out
}

// Len returns the number of records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func cloneRecord(rec Record) Record {
	attrs := make(map[string]any, len(rec.Attributes))
	for k, v := range rec.Attributes {
		attrs[k] = v
	}
	return Record{Name: rec.Name, Attributes: attrs}
}

// ApproxTokens is the size proxy for a stage payload: serialized JSON length
// divided by four. Unserializable values count as zero.
func ApproxTokens(v any) int64 {
	if v == nil {
		return 0
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(b) / 4)
}
