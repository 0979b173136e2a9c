package model

import "time"

// LoopStatus is the per-phase restart-safe loop status (§3.1 LoopRecord).
type LoopStatus string

const (
	LoopRunning   LoopStatus = "running"
	LoopYielded   LoopStatus = "yielded"
	LoopStopped   LoopStatus = "stopped"
	LoopDone      LoopStatus = "done"
	LoopGuardStop LoopStatus = "guard_stop"
	LoopFailed    LoopStatus = "failed"
)

// InputItemType tags the sum type described in §6.1 / §9 "Dynamic typing".
type InputItemType string

const (
	InputFunctionCall       InputItemType = "function_call"
	InputFunctionCallOutput InputItemType = "function_call_output"
	InputReasoning          InputItemType = "reasoning"
	InputText               InputItemType = "text"
)

// InputItem is one element of a model turn's input array. Only the fields
// relevant to its Type are populated; this is the typed replacement for the
// ad-hoc JSON items the original system threads through model turns.
type InputItem struct {
	Type    InputItemType
	CallID  string
	Name    string
	Args    string // JSON string, for function_call
	Output  string // JSON string, for function_call_output
	Text    string // for reasoning / text items
}

// RunnerWarning is a bounded warning attached to AgentState.RunnerWarnings,
// e.g. DROPPED_ORPHAN_FUNCTION_OUTPUTS (§4.4.2).
type RunnerWarning struct {
	Code          string
	Mode          string
	RemovedCallIDs []string
	Ts            int64
}

// LoopRecord is the per-phase restart-safe state (§3.1). A zero LoopRecord
// is not runnable — NewAgentState allocates each phase's record with
// Status LoopRunning before the first iteration.
type LoopRecord struct {
	Status LoopStatus

	// Iteration is used by Execution/Proofreading; StepIndex/StepAttempt by
	// Planning — both fields exist on every phase's record per §3.1 but only
	// one pair is semantically active depending on the phase.
	Iteration  int
	StepIndex  int
	StepAttempt int

	ToolCallsExecuted int

	MaxSteps                int
	MaxToolCalls            int
	MaxIterationsPerTick    int
	MaxStepAttempts         int
	MaxNoProgressIterations int
	NoProgressIterations    int

	PreviousResponseID string
	LastResponseID     string

	AwaitingAckCallIDs []string
	PendingInputItems  []InputItem

	RecoveryAttempts int
	AutoCompressEvery int

	StartedAt time.Time
	UpdatedAt time.Time
	LastError *LastError

	// tickIterations is a non-persisted, per-tick counter used to enforce
	// MaxIterationsPerTick; it is reset to zero whenever a tick begins.
	tickIterations int
}

// ResetTick clears the per-tick iteration budget counter. Called once at
// the top of every JobRunner-invoked AgentRunner.Run* call.
func (l *LoopRecord) ResetTick() {
	l.tickIterations = 0
}

// TickIterations reports how many iterations have run in the current tick.
func (l *LoopRecord) TickIterations() int { return l.tickIterations }

// IncTick increments the per-tick iteration counter.
func (l *LoopRecord) IncTick() { l.tickIterations++ }
