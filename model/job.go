// Package model holds the durable data types shared across the
// orchestration core: Job, AgentState, LoopRecord, InflightRow and
// ToolDefinition. Values in this package are plain data — no component
// owns behavior through embedded methods that mutate fields another
// component is responsible for; see the ownership notes on AgentState.
package model

import "time"

// JobStatus is the lifecycle status of a Job.
type JobStatus string

const (
	JobPreparing         JobStatus = "preparing"
	JobPlanning          JobStatus = "planning"
	JobAwaitingCategories JobStatus = "awaiting_categories"
	JobRunning           JobStatus = "running"
	JobCompleting        JobStatus = "completing"
	JobDone              JobStatus = "done"
	JobFailed            JobStatus = "failed"
	JobCancelled         JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobDone, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Block is an opaque unit of translatable content. Its domain schema
// (DOM shape, source text) is an external collaborator's concern; the
// orchestration core only tracks identity and pipeline membership.
type Block struct {
	ID       string
	Category string
	Meta     map[string]any
}

// Job is the root persisted entity. It exclusively owns AgentState;
// JobRunner exclusively owns Runtime; no other component mutates either
// directly (see pkg-level doc in agentstate.go for the full ownership map).
type Job struct {
	JobID      string
	TabID      string
	TargetLang string
	Status     JobStatus

	PendingBlockIDs  []string
	BlocksByID       map[string]*Block
	CompletedBlocks  []string
	FailedBlockIDs   []string

	SelectedCategories []string

	AgentState   *AgentState
	Runtime      *Runtime
	Proofreading *ProofreadingState

	LeaseUntilTs int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProofreadingState tracks the proofreading phase's own pending set,
// mirrored from the execution phase's pattern (spec §4.4.5) but kept
// separate because proofreading runs over a distinct block set.
type ProofreadingState struct {
	PendingBlockIDs []string
	PlanAuthored    bool
}

// NewJob constructs a Job in its initial preparing state with all nested
// owned structures allocated so callers never need nil-checks before the
// first persist.
func NewJob(jobID, tabID, targetLang string) *Job {
	now := time.Now()
	return &Job{
		JobID:              jobID,
		TabID:              tabID,
		TargetLang:         targetLang,
		Status:             JobPreparing,
		BlocksByID:         make(map[string]*Block),
		SelectedCategories: nil,
		AgentState:         NewAgentState(),
		Runtime:            NewRuntime(),
		Proofreading:       &ProofreadingState{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// RuntimeStatus is the scheduler-facing status distinct from JobStatus —
// it tracks scheduling disposition (§6.4), not domain lifecycle.
type RuntimeStatus string

const (
	RuntimeIdle      RuntimeStatus = "IDLE"
	RuntimeQueued    RuntimeStatus = "QUEUED"
	RuntimeRunning   RuntimeStatus = "RUNNING"
	RuntimeDone      RuntimeStatus = "DONE"
	RuntimeFailed    RuntimeStatus = "FAILED"
	RuntimeCancelled RuntimeStatus = "CANCELLED"
)

// Stage is the scheduler's view of which phase a job is progressing
// through; distinct from JobStatus because "awaiting_categories" is an
// idle stage, not a runnable one.
type Stage string

const (
	StageScanning            Stage = "scanning"
	StagePlanning            Stage = "planning"
	StageAwaitingCategories  Stage = "awaiting_categories"
	StageExecution           Stage = "execution"
	StageProofreading        Stage = "proofreading"
)

// LastError is the {code, message} pair surfaced to the UI and compared
// by RetryPolicy.classifyError.
type LastError struct {
	Code    string
	Message string
}

// Lease is the scheduler's exclusive-ownership claim, renewed on progress.
type Lease struct {
	LeaseUntilTs int64
	HeartbeatTs  int64
	Op           string
	OpID         string
}

// Retry tracks classified-backoff retry state for a job.
type Retry struct {
	Attempt        int
	MaxAttempts    int
	NextRetryAtTs  int64
	FirstAttemptTs int64
	LastError      *LastError
}

// Watchdog tracks the no-progress detector's last observed progress key.
type Watchdog struct {
	LastProgressTs  int64
	LastProgressKey string
}

// Runtime is job.runtime (§6.4): lease/retry/watchdog state exclusively
// owned and mutated by the JobRunner.
type Runtime struct {
	OwnerInstanceID string
	Status          RuntimeStatus
	Stage           Stage
	Lease           Lease
	Retry           Retry
	Watchdog        Watchdog
}

// NewRuntime returns a Runtime in its idle, lease-free initial state.
func NewRuntime() *Runtime {
	return &Runtime{
		Status: RuntimeIdle,
		Stage:  StageScanning,
		Retry:  Retry{MaxAttempts: 4},
	}
}
