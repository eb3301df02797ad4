package domain

import (
	"time"
)

// RunID is a unique identifier for one pipeline run.
type RunID string

// String returns the string representation of the RunID.
func (id RunID) String() string {
	return string(id)
}

// Stage is a step of the stitching pipeline.
type Stage string

const (
	StageStart          Stage = "start"
	StageResolve        Stage = "resolve"
	StagePaginate       Stage = "paginate"
	StageOrder          Stage = "order"
	StageSelectVariants Stage = "select_variants"
	StageFetch          Stage = "fetch"
	StageConcatenate    Stage = "concatenate"
)

// String returns the string representation of the Stage.
func (s Stage) String() string {
	return string(s)
}

// RunState represents the current state of a run.
type RunState string

const (
	RunStateRunning RunState = "running"
	RunStateDone    RunState = "done"
	RunStateFailed  RunState = "failed"
)

// Run tracks one pipeline execution through its linear stages.
type Run struct {
	ID        RunID
	Ref       string
	Stage     Stage
	State     RunState
	LastError string
	Output    string
	Segments  int
	Pages     int
	StartedAt time.Time
	UpdatedAt time.Time
}

// NewRun creates a new run in the start stage.
func NewRun(id RunID, ref string) *Run {
	now := time.Now()
	return &Run{
		ID:        id,
		Ref:       ref,
		Stage:     StageStart,
		State:     RunStateRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Enter moves the run to the given stage.
func (r *Run) Enter(stage Stage) {
	r.Stage = stage
	r.UpdatedAt = time.Now()
}

// MarkDone moves the run to its success terminal state.
func (r *Run) MarkDone() {
	r.State = RunStateDone
	r.UpdatedAt = time.Now()
}

// MarkFailed moves the run to its failure terminal state.
func (r *Run) MarkFailed(err string) {
	r.State = RunStateFailed
	r.LastError = err
	r.UpdatedAt = time.Now()
}

// Terminal returns true once the run is done or failed.
func (r *Run) Terminal() bool {
	return r.State == RunStateDone || r.State == RunStateFailed
}

// Elapsed returns the time since the run started.
func (r *Run) Elapsed() time.Duration {
	return r.UpdatedAt.Sub(r.StartedAt)
}
