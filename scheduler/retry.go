// Package scheduler implements the Job Runner / Scheduler step (§4.6):
// the single decision function that reloads a job, renews its lease,
// infers its stage, and dispatches at most one bounded piece of work to
// the Agent Runner before returning — the same one-step-at-a-time
// posture the teacher's task_status_retry.go and checkpoint.go apply to
// a single task's lifecycle, generalized here to a full job.
package scheduler

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
)

// RetryPolicy classifies errors into retryable/terminal and computes
// capped exponential backoff with jitter (§4.6: "nextAttempt :=
// retry.attempt+1, backoffMs := ... computeBackoffMs(attempt, base=1000,
// max=60000, jitter=20%)").
type RetryPolicy struct {
	BaseMs    int64
	MaxMs     int64
	JitterPct float64

	// Rand supplies jitter; defaults to rand.Float64 when nil so tests can
	// inject a deterministic source.
	Rand func() float64
}

// DefaultRetryPolicy returns the §4.6-specified defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseMs: 1000, MaxMs: 60000, JitterPct: 0.20}
}

// ClassifiedError is the result of classifyError: whether the error
// should be retried, and an optional server-suggested retry-after delay
// that takes priority over the computed backoff.
type ClassifiedError struct {
	Retryable    bool
	RetryAfterMs *int64
	Code         orcerr.Code
}

// ClassifyError inspects err's orcerr.Code (if any) and maps its Class to
// a retry/terminal decision. Transport and model-chain errors are
// retryable; loop-guard, cancellation, and an unclassified error default
// to terminal, matching orcerr.ClassOf's own "unknown -> scheduling"
// default being treated conservatively here.
func ClassifyError(err error) ClassifiedError {
	code, ok := orcerr.CodeOf(err)
	if !ok {
		return ClassifiedError{Retryable: false}
	}
	switch orcerr.ClassOf(code) {
	case orcerr.ClassTransport, orcerr.ClassModelChain:
		return ClassifiedError{Retryable: true, Code: code}
	case orcerr.ClassScheduling:
		// LEASE_EXPIRED is retryable; NO_PROGRESS_WATCHDOG and TAB_GONE are
		// always terminal per §4.6 steps 3 and 6.
		if code == orcerr.CodeLeaseExpired {
			return ClassifiedError{Retryable: true, Code: code}
		}
		return ClassifiedError{Retryable: false, Code: code}
	default:
		return ClassifiedError{Retryable: false, Code: code}
	}
}

// ComputeBackoffMs returns base*2^(attempt-1) capped at maxMs, jittered by
// +/- jitterPct.
func (p RetryPolicy) ComputeBackoffMs(attempt int) int64 {
	base := p.BaseMs
	if base <= 0 {
		base = 1000
	}
	max := p.MaxMs
	if max <= 0 {
		max = 60000
	}
	if attempt < 1 {
		attempt = 1
	}

	backoff := base * (1 << uint(attempt-1))
	if backoff > max {
		backoff = max
	}

	jitterPct := p.JitterPct
	if jitterPct <= 0 {
		jitterPct = 0.20
	}
	randFn := p.Rand
	if randFn == nil {
		randFn = rand.Float64
	}
	jitter := (randFn()*2 - 1) * jitterPct
	result := float64(backoff) * (1 + jitter)
	if result < 0 {
		result = 0
	}
	return int64(result)
}

// ProgressKey builds the §4.6 watchdog key:
// "completed:failedLen:pendingLen:lastAppliedSeq:stage".
func ProgressKey(job *model.Job) string {
	lastAppliedSeq := 0
	if job.AgentState != nil {
		lastAppliedSeq = len(job.AgentState.ToolExecutionTrace)
	}
	return strconv.Itoa(len(job.CompletedBlocks)) + ":" +
		strconv.Itoa(len(job.FailedBlockIDs)) + ":" +
		strconv.Itoa(len(job.PendingBlockIDs)) + ":" +
		strconv.Itoa(lastAppliedSeq) + ":" +
		string(job.Runtime.Stage)
}

// defaultWatchdogNoProgressMs is the duration of inactivity (by
// ProgressKey) after which the scheduler raises NO_PROGRESS_WATCHDOG.
// Configured values below minWatchdogNoProgressMs are clamped up.
const (
	defaultWatchdogNoProgressMs = int64(2 * time.Minute / time.Millisecond)
	minWatchdogNoProgressMs     = int64(30 * time.Second / time.Millisecond)
)
