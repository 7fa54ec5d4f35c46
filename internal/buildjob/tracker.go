package buildjob

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yungbote/pathsync/internal/api"
	apperrors "github.com/yungbote/pathsync/internal/pkg/errors"
	"github.com/yungbote/pathsync/internal/pkg/logger"
	"github.com/yungbote/pathsync/internal/snapshot"
	"github.com/yungbote/pathsync/internal/store"
	"github.com/yungbote/pathsync/internal/types"
)

type State string

const (
	StateNoActiveJob State = "no-active-job"
	StatePending     State = "pending"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func stateForStatus(st types.JobStatus) State {
	switch st {
	case types.JobPending:
		return StatePending
	case types.JobRunning:
		return StateRunning
	case types.JobCompleted:
		return StateCompleted
	case types.JobFailed:
		return StateFailed
	case types.JobCancelled:
		return StateCancelled
	default:
		return StateNoActiveJob
	}
}

type pathJob struct {
	state       State
	job         types.BuildJob
	steps       []types.JobStep
	progress    int
	latestEvent *types.JobProgressEvent
	err         string
}

// JobView is a point-in-time copy of one path's job state.
type JobView struct {
	State       State
	Job         types.BuildJob
	Steps       []types.JobStep
	Progress    int
	LatestEvent *types.JobProgressEvent
	Err         string
}

// Tracker owns the lifecycle of build jobs, one active job per path,
// any number of paths tracked concurrently. The job itself is a
// server-owned resource: unsubscribing never cancels it, and terminal
// states are only applied on server confirmation.
type Tracker struct {
	log   *logger.Logger
	api   *api.Client
	store *store.Store
	snap  *snapshot.Store // optional

	mu   sync.Mutex
	jobs map[string]*pathJob // by pathID

	subs *subscriptionManager
}

func NewTracker(baseLog *logger.Logger, apiClient *api.Client, st *store.Store, snap *snapshot.Store) *Tracker {
	t := &Tracker{
		log:   baseLog.With("component", "BuildJobTracker"),
		api:   apiClient,
		store: st,
		snap:  snap,
		jobs:  make(map[string]*pathJob),
	}
	t.subs = newSubscriptionManager(t)
	return t
}

// JobState reads the tracked state for a path. Unknown paths read as
// NoActiveJob.
func (t *Tracker) JobState(pathID string) JobView {
	t.mu.Lock()
	defer t.mu.Unlock()
	pj, ok := t.jobs[pathID]
	if !ok {
		return JobView{State: StateNoActiveJob}
	}
	view := JobView{
		State:    pj.state,
		Job:      pj.job,
		Progress: pj.progress,
		Err:      pj.err,
	}
	view.Steps = append(view.Steps, pj.steps...)
	if pj.latestEvent != nil {
		ev := *pj.latestEvent
		view.LatestEvent = &ev
	}
	return view
}

// CreateBuildJob starts a new job for a path. Only valid when no
// non-terminal job is tracked for it.
func (t *Tracker) CreateBuildJob(ctx context.Context, pathID string) error {
	t.mu.Lock()
	if pj, ok := t.jobs[pathID]; ok && (pj.state == StatePending || pj.state == StateRunning) {
		t.mu.Unlock()
		return fmt.Errorf("build job %s already active for path %s: %w", pj.job.ID, pathID, apperrors.ErrConflict)
	}
	t.mu.Unlock()

	job, err := t.api.CreateBuildJob(ctx, pathID)
	if err != nil {
		t.mu.Lock()
		t.jobs[pathID] = &pathJob{state: StateNoActiveJob, err: api.FormatError(err)}
		t.mu.Unlock()
		return err
	}

	t.adopt(pathID, job)
	return nil
}

// LoadActiveJob reconciles with the server: adopt a reported
// non-terminal job (and subscribe), or settle on NoActiveJob. Called on
// path selection, page load, and after stream drops. Idempotent.
func (t *Tracker) LoadActiveJob(ctx context.Context, pathID string) error {
	job, err := t.api.ActiveJob(ctx, pathID)
	if err != nil {
		t.mu.Lock()
		if pj, ok := t.jobs[pathID]; ok {
			pj.err = api.FormatError(err)
		} else {
			t.jobs[pathID] = &pathJob{state: StateNoActiveJob, err: api.FormatError(err)}
		}
		t.mu.Unlock()
		return err
	}

	if job == nil {
		t.subs.stopPath(pathID)
		t.mu.Lock()
		t.jobs[pathID] = &pathJob{state: StateNoActiveJob}
		t.mu.Unlock()
		if t.snap != nil {
			_ = t.snap.ClearActiveJob(ctx, pathID)
		}
		return nil
	}

	t.adopt(pathID, *job)
	return nil
}

// adopt records a job as the path's active one and, when non-terminal,
// opens its event subscription.
func (t *Tracker) adopt(pathID string, job types.BuildJob) {
	state := stateForStatus(job.Status)
	t.mu.Lock()
	t.jobs[pathID] = &pathJob{state: state, job: job, steps: job.Steps}
	t.mu.Unlock()

	t.persistActive(pathID, job)

	if !state.Terminal() {
		if err := t.subs.subscribe(pathID, job.ID); err != nil {
			t.log.Warn("job event subscription failed; progress will rely on reconciliation",
				"pathID", pathID, "jobID", job.ID, "error", err)
		}
	}
}

// CancelJob requests cancellation of the path's active job. The
// terminal state lands only once the server confirms, via the response
// here or a subsequent stream event.
func (t *Tracker) CancelJob(ctx context.Context, pathID string) error {
	t.mu.Lock()
	pj, ok := t.jobs[pathID]
	if !ok || (pj.state != StatePending && pj.state != StateRunning) {
		t.mu.Unlock()
		return fmt.Errorf("no cancellable job for path %s: %w", pathID, apperrors.ErrInvalidArgument)
	}
	jobID := pj.job.ID
	t.mu.Unlock()

	job, err := t.api.CancelBuildJob(ctx, jobID)
	if err != nil {
		t.mu.Lock()
		if pj, ok := t.jobs[pathID]; ok {
			pj.err = api.FormatError(err)
		}
		t.mu.Unlock()
		return err
	}

	if job.Status.Terminal() {
		t.applyTerminal(pathID, jobID, stateForStatus(job.Status), job.Error)
	}
	return nil
}

// Unsubscribe tears down the path's event stream without touching the
// job; leaving the owning view must not leak a live connection.
func (t *Tracker) Unsubscribe(pathID string) {
	t.subs.stopPath(pathID)
}

// handleEvent folds one streamed event into tracked state. Events for
// jobs already in a terminal state are dropped (terminal finality).
func (t *Tracker) handleEvent(pathID string, ev types.JobProgressEvent) {
	t.mu.Lock()
	pj, ok := t.jobs[pathID]
	if !ok || pj.job.ID != ev.BuildJobID || pj.state.Terminal() {
		t.mu.Unlock()
		return
	}

	evCopy := ev
	pj.latestEvent = &evCopy
	pj.job.CurrentOperation = ev.Message
	// progress counters update unconditionally, even when the merge
	// below turns out to be a no-op
	if ev.Progress != nil {
		pj.job.CompletedSteps = ev.Progress.Completed
		pj.job.TotalSteps = ev.Progress.Total
		pj.progress = ev.Progress.Percentage
	}

	wasPending := pj.state == StatePending
	var terminal State
	switch ev.Type {
	case types.EventJobStarted, types.EventStepStarted, types.EventStepCompleted:
		pj.state = StateRunning
		pj.job.Status = types.JobRunning
	case types.EventStepFailed:
		pj.state = StateRunning
		pj.job.Status = types.JobRunning
		pj.job.FailedSteps++
	case types.EventJobCompleted:
		terminal = StateCompleted
	case types.EventJobFailed:
		terminal = StateFailed
	default:
		t.log.Debug("unrecognized job event type", "type", ev.Type, "jobID", ev.BuildJobID)
	}
	job := pj.job
	t.mu.Unlock()

	if terminal != "" {
		t.applyTerminal(pathID, ev.BuildJobID, terminal, ev.Error)
		// streamed partials were a liveness optimization; reload the
		// authoritative record now that the job settled
		go t.refreshProgress(context.Background(), pathID, ev.BuildJobID)
		t.store.NotifyChanged(t.store.Concepts.Kind(), t.store.SubConcepts.Kind(), t.store.KnowledgeUnits.Kind())
		return
	}

	if ev.Type == types.EventStepCompleted {
		t.applyStepEntities(ev)
	}
	if wasPending {
		t.persistActive(pathID, job)
	}
}

// applyTerminal finalizes a job exactly once and drops its stream.
func (t *Tracker) applyTerminal(pathID, jobID string, state State, errMsg string) {
	t.mu.Lock()
	pj, ok := t.jobs[pathID]
	if !ok || pj.job.ID != jobID || pj.state.Terminal() {
		t.mu.Unlock()
		return
	}
	pj.state = state
	switch state {
	case StateCompleted:
		pj.job.Status = types.JobCompleted
	case StateFailed:
		pj.job.Status = types.JobFailed
		pj.err = errMsg
		pj.job.Error = errMsg
	case StateCancelled:
		pj.job.Status = types.JobCancelled
	}
	t.mu.Unlock()

	// no wait: applyTerminal may run on the stream's own goroutine
	t.subs.cancelJob(jobID)
	if t.snap != nil {
		_ = t.snap.ClearActiveJob(context.Background(), pathID)
	}
	t.log.Info("build job reached terminal state", "pathID", pathID, "jobID", jobID, "state", state)
}

// jobStillLive reports whether a path still tracks this job in a
// non-terminal state.
func (t *Tracker) jobStillLive(pathID, jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pj, ok := t.jobs[pathID]
	return ok && pj.job.ID == jobID && !pj.state.Terminal()
}

// onStreamEnd treats a stream that went away mid-job as "status
// unknown": last-known progress stays visible and a reconciliation
// round-trip decides what actually happened. Covers both transport
// errors and clean server-side closes before a terminal event. Never
// synthesizes a job failure.
func (t *Tracker) onStreamEnd(pathID, jobID string, err error) {
	if err != nil {
		t.log.Warn("job event stream dropped, reconciling", "pathID", pathID, "jobID", jobID, "error", err)
	} else {
		t.log.Warn("job event stream ended before a terminal event, reconciling", "pathID", pathID, "jobID", jobID)
	}
	if lerr := t.LoadActiveJob(context.Background(), pathID); lerr != nil {
		t.log.Warn("post-drop reconciliation failed", "pathID", pathID, "error", lerr)
	}
}

// ResumePersisted seeds a path's state from the locally persisted
// active-job record so a restarted client renders the last known job
// immediately. No subscription is opened; the LoadActiveJob round-trip
// decides that once the server confirms the job still exists.
func (t *Tracker) ResumePersisted(ctx context.Context, pathID string) bool {
	if t.snap == nil {
		return false
	}
	rec, err := t.snap.ActiveJob(ctx, pathID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.log.Warn("reading persisted active job failed", "pathID", pathID, "error", err)
		}
		return false
	}
	state := stateForStatus(types.JobStatus(rec.Status))
	if state == StateNoActiveJob || state.Terminal() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[pathID]; ok {
		// live in-process state always beats the on-disk record
		return false
	}
	t.jobs[pathID] = &pathJob{
		state: state,
		job:   types.BuildJob{ID: rec.JobID, PathID: pathID, Status: types.JobStatus(rec.Status)},
	}
	t.log.Info("resumed persisted build job pending server confirmation", "pathID", pathID, "jobID", rec.JobID, "state", state)
	return true
}

func (t *Tracker) refreshProgress(ctx context.Context, pathID, jobID string) {
	resp, err := t.api.JobProgress(ctx, jobID)
	if err != nil {
		t.log.Warn("final progress fetch failed", "jobID", jobID, "error", err)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pj, ok := t.jobs[pathID]
	if !ok || pj.job.ID != jobID {
		return
	}
	// steps and counters may refresh after the terminal state; the
	// status field itself never changes again
	pj.steps = resp.Steps
	pj.progress = resp.Percentage
	pj.job.CompletedSteps = resp.Job.CompletedSteps
	pj.job.FailedSteps = resp.Job.FailedSteps
	pj.job.TotalSteps = resp.Job.TotalSteps
}

func (t *Tracker) persistActive(pathID string, job types.BuildJob) {
	if t.snap == nil {
		return
	}
	if err := t.snap.SaveActiveJob(context.Background(), pathID, job.ID, string(job.Status)); err != nil {
		t.log.Warn("persisting active job failed", "pathID", pathID, "error", err)
	}
}

// Close drops every live subscription. Jobs keep running server-side.
func (t *Tracker) Close() {
	t.subs.stopAll()
}
