package scheduler

import (
	"context"
	"time"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
	"github.com/kadirpekel/orchestrator/store"
)

// AgentRunner is the subset of agent.Runner the scheduler drives. Kept
// as an interface so step.go doesn't import the agent package directly,
// matching the seam pattern ModelClient already establishes in
// agent/runner.go.
type AgentRunner interface {
	RunPlanning(ctx context.Context, job *model.Job) error
	RunExecution(ctx context.Context, job *model.Job) error
	RunProofreading(ctx context.Context, job *model.Job) error
}

// WorkerCanceller cancels outstanding remote-worker calls for a job,
// implemented by transport.Executor.
type WorkerCanceller interface {
	CancelByJobID(ctx context.Context, jobID string, maxRequests int) error
}

// ContentRuntimeNudger re-injects the browser-extension content runtime
// and re-sends BG_START_JOB for a preparing job that has gone idle — a
// concern entirely outside the orchestration core (no DOM or content-
// script access here), so it is injected as a callback rather than
// implemented in this package.
type ContentRuntimeNudger interface {
	Nudge(ctx context.Context, tabID string) error
}

// CoalesceFlusher drains any due coalesced tool entries for the job,
// implemented by tool.Engine.FlushDueCoalesced. The scheduler calls it
// once per tick so a debounced batch still resolves even when no further
// call for that tool ever arrives (§4.2.4's lazy-drain contract).
type CoalesceFlusher interface {
	FlushDueCoalesced(ctx context.Context, job *model.Job)
}

// StepMetricsSink records the duration of one scheduler step, keyed by
// stage (§4.6 step 9: "step:<stage>").
type StepMetricsSink interface {
	ObserveStepDuration(stage string, d time.Duration)
}

type noopMetricsSink struct{}

func (noopMetricsSink) ObserveStepDuration(string, time.Duration) {}

// StepResult is the step(job, {reason}) return value (§4.6).
type StepResult struct {
	OK          bool
	Terminal    bool
	HasMoreWork bool
	Requeued    bool
}

// Scheduler implements the §4.6 Job Runner.
type Scheduler struct {
	Stores     *store.Stores
	Runner     AgentRunner
	Canceller  WorkerCanceller
	Nudger     ContentRuntimeNudger
	Flusher    CoalesceFlusher
	Metrics    StepMetricsSink
	Now        func() int64
	InstanceID string

	LeaseMs              int64
	WatchdogNoProgressMs int64
	RetryPolicy          RetryPolicy

	// OnActiveJobChanged clears/sets the single active-job pointer a
	// background-worker UI might track; nil is a valid no-op default.
	OnActiveJobChanged func(jobID string, active bool)
}

// NewScheduler constructs a Scheduler with spec defaults for lease and
// watchdog timings.
func NewScheduler(stores *store.Stores, runner AgentRunner, canceller WorkerCanceller, now func() int64, instanceID string) *Scheduler {
	return &Scheduler{
		Stores:               stores,
		Runner:               runner,
		Canceller:            canceller,
		Metrics:              noopMetricsSink{},
		Now:                  now,
		InstanceID:           instanceID,
		LeaseMs:              15000,
		WatchdogNoProgressMs: defaultWatchdogNoProgressMs,
		RetryPolicy:          DefaultRetryPolicy(),
	}
}

func (s *Scheduler) setActive(jobID string, active bool) {
	if s.OnActiveJobChanged != nil {
		s.OnActiveJobChanged(jobID, active)
	}
}

// Step performs one scheduler decision for job, per the §4.6 algorithm.
func (s *Scheduler) Step(ctx context.Context, job *model.Job) (StepResult, error) {
	start := time.Now()
	stage := inferStage(job)
	defer func() {
		s.metrics().ObserveStepDuration(string(stage), time.Since(start))
	}()

	if job.Status.IsTerminal() {
		job.Runtime.Lease = model.Lease{}
		s.setActive(job.JobID, false)
		_ = s.Stores.Jobs.Save(ctx, job)
		return StepResult{OK: true, Terminal: true}, nil
	}

	if job.Runtime == nil {
		job.Runtime = model.NewRuntime()
	}
	job.Runtime.OwnerInstanceID = s.InstanceID
	job.Runtime.Stage = stage

	now := s.now()
	key := ProgressKey(job)
	if key != job.Runtime.Watchdog.LastProgressKey {
		job.Runtime.Watchdog.LastProgressKey = key
		job.Runtime.Watchdog.LastProgressTs = now
	} else if job.Runtime.Watchdog.LastProgressTs > 0 &&
		now-job.Runtime.Watchdog.LastProgressTs > s.watchdogNoProgressMs() {
		return s.recover(ctx, job, orcerr.New(orcerr.CodeNoProgressWatchdog, "no progress observed within watchdog window"))
	}

	if job.Runtime.Retry.NextRetryAtTs > now {
		job.Runtime.Status = model.RuntimeQueued
		_ = s.Stores.Jobs.Save(ctx, job)
		return StepResult{OK: true}, nil
	}

	if job.Runtime.Lease.LeaseUntilTs > 0 && job.Runtime.Lease.LeaseUntilTs < now {
		return s.recover(ctx, job, orcerr.New(orcerr.CodeLeaseExpired, "lease expired before step completed"))
	}

	if s.Stores.TabState != nil {
		tab, err := s.Stores.TabState.Get(ctx, job.TabID)
		if err == nil && tab != nil && !tab.Exists {
			return s.recover(ctx, job, orcerr.New(orcerr.CodeTabGone, "owning tab no longer exists"))
		}
	}

	op := opForStage(stage)
	job.Runtime.Lease = model.Lease{
		LeaseUntilTs: now + s.leaseMs(),
		HeartbeatTs:  now,
		Op:           op,
		OpID:         job.JobID + ":" + op,
	}
	job.Runtime.Status = model.RuntimeRunning
	_ = s.Stores.Jobs.Save(ctx, job)

	result, err := s.dispatch(ctx, job, stage)
	if err != nil {
		return s.recover(ctx, job, err)
	}
	return result, nil
}

func (s *Scheduler) dispatch(ctx context.Context, job *model.Job, stage model.Stage) (StepResult, error) {
	switch job.Status {
	case model.JobRunning, model.JobCompleting:
		if s.Flusher != nil {
			s.Flusher.FlushDueCoalesced(ctx, job)
		}
		if stage == model.StageProofreading {
			if err := s.Runner.RunProofreading(ctx, job); err != nil {
				return StepResult{}, err
			}
		} else if err := s.Runner.RunExecution(ctx, job); err != nil {
			return StepResult{}, err
		}
		_ = s.Stores.Jobs.Save(ctx, job)
		return StepResult{OK: true, HasMoreWork: true}, nil

	case model.JobPreparing:
		idleMs := s.now() - job.Runtime.Watchdog.LastProgressTs
		if idleMs > 8000 && s.now()-job.Runtime.Lease.HeartbeatTs > 4000 && s.Nudger != nil {
			_ = s.Nudger.Nudge(ctx, job.TabID)
			job.Runtime.Lease.HeartbeatTs = s.now()
			_ = s.Stores.Jobs.Save(ctx, job)
		}
		return StepResult{OK: true, HasMoreWork: true}, nil

	case model.JobPlanning:
		if err := s.Runner.RunPlanning(ctx, job); err != nil {
			return StepResult{}, err
		}
		_ = s.Stores.Jobs.Save(ctx, job)
		if job.Status == model.JobAwaitingCategories {
			job.Runtime.Lease = model.Lease{}
			job.Runtime.Status = model.RuntimeIdle
			_ = s.Stores.Jobs.Save(ctx, job)
			return StepResult{OK: true, HasMoreWork: false}, nil
		}
		return StepResult{OK: true, HasMoreWork: true}, nil

	case model.JobAwaitingCategories:
		job.Runtime.Lease = model.Lease{}
		job.Runtime.Status = model.RuntimeIdle
		_ = s.Stores.Jobs.Save(ctx, job)
		return StepResult{OK: true, HasMoreWork: false}, nil

	default:
		return StepResult{OK: true}, nil
	}
}

// recover implements the retry/terminal branch of §4.6: classify err,
// either schedule a backoff retry (cancelling outstanding worker calls
// first) or move the job to failed and clear the active-job pointer.
func (s *Scheduler) recover(ctx context.Context, job *model.Job, err error) (StepResult, error) {
	classified := ClassifyError(err)
	now := s.now()

	if s.Canceller != nil {
		_ = s.Canceller.CancelByJobID(ctx, job.JobID, 0)
	}

	lastErr := &model.LastError{Code: string(classified.Code), Message: err.Error()}

	if !classified.Retryable {
		job.Status = model.JobFailed
		job.Runtime.Lease = model.Lease{}
		job.Runtime.Retry.LastError = lastErr
		s.setActive(job.JobID, false)
		_ = s.Stores.Jobs.Save(ctx, job)
		return StepResult{OK: false, Terminal: true}, err
	}

	job.Runtime.Retry.Attempt++
	if job.Runtime.Retry.FirstAttemptTs == 0 {
		job.Runtime.Retry.FirstAttemptTs = now
	}
	job.Runtime.Retry.LastError = lastErr

	var backoffMs int64
	if classified.RetryAfterMs != nil {
		backoffMs = *classified.RetryAfterMs
	} else {
		backoffMs = s.RetryPolicy.ComputeBackoffMs(job.Runtime.Retry.Attempt)
	}

	maxAttempts := job.Runtime.Retry.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > 4 {
		maxAttempts = 4
	}
	if job.Runtime.Retry.Attempt > maxAttempts {
		job.Status = model.JobFailed
		job.Runtime.Lease = model.Lease{}
		s.setActive(job.JobID, false)
		_ = s.Stores.Jobs.Save(ctx, job)
		return StepResult{OK: false, Terminal: true}, err
	}

	job.Runtime.Retry.NextRetryAtTs = now + backoffMs
	job.Runtime.Lease = model.Lease{}
	job.Runtime.Status = model.RuntimeQueued
	_ = s.Stores.Jobs.Save(ctx, job)
	return StepResult{OK: true, Requeued: true}, nil
}

func (s *Scheduler) now() int64 {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UnixMilli()
}

func (s *Scheduler) leaseMs() int64 {
	if s.LeaseMs > 0 {
		return s.LeaseMs
	}
	return 15000
}

func (s *Scheduler) watchdogNoProgressMs() int64 {
	if s.WatchdogNoProgressMs >= minWatchdogNoProgressMs {
		return s.WatchdogNoProgressMs
	}
	if s.WatchdogNoProgressMs > 0 {
		return minWatchdogNoProgressMs
	}
	return defaultWatchdogNoProgressMs
}

func (s *Scheduler) metrics() StepMetricsSink {
	if s.Metrics != nil {
		return s.Metrics
	}
	return noopMetricsSink{}
}

// inferStage maps a Job's domain status onto the scheduler's stage view
// (§4.6's inferFromStatus).
func inferStage(job *model.Job) model.Stage {
	switch job.Status {
	case model.JobPreparing:
		return model.StageScanning
	case model.JobPlanning:
		return model.StagePlanning
	case model.JobAwaitingCategories:
		return model.StageAwaitingCategories
	default:
		// running/completing: execution until the pending set drains, then
		// proofreading while its own pending set is non-empty.
		if len(job.PendingBlockIDs) == 0 && job.Proofreading != nil && len(job.Proofreading.PendingBlockIDs) > 0 {
			return model.StageProofreading
		}
		return model.StageExecution
	}
}

func opForStage(stage model.Stage) string {
	switch stage {
	case model.StageScanning:
		return "scanning"
	case model.StagePlanning:
		return "planning"
	case model.StageProofreading:
		return "proofreading"
	default:
		return "execution"
	}
}
