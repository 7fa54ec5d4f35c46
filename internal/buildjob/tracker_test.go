package buildjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/pathsync/internal/api"
	apperrors "github.com/yungbote/pathsync/internal/pkg/errors"
	"github.com/yungbote/pathsync/internal/pkg/logger"
	"github.com/yungbote/pathsync/internal/snapshot"
	"github.com/yungbote/pathsync/internal/store"
	"github.com/yungbote/pathsync/internal/types"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeBackend serves the build-job REST surface plus per-job SSE streams
// fed from test-owned channels.
type fakeBackend struct {
	t *testing.T

	liveStreams atomic.Int32

	mu       sync.Mutex
	active   *types.BuildJob
	created  types.BuildJob
	progress types.JobProgressResponse
	events   map[string]chan types.JobProgressEvent
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{t: t, events: make(map[string]chan types.JobProgressEvent)}
}

func (b *fakeBackend) setActive(job *types.BuildJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = job
}

func (b *fakeBackend) setCreated(job types.BuildJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = job
}

func (b *fakeBackend) eventsFor(jobID string) chan types.JobProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.events[jobID]
	if !ok {
		ch = make(chan types.JobProgressEvent, 16)
		b.events[jobID] = ch
	}
	return ch
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			b.t.Errorf("encode response: %v", err)
		}
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/build-jobs":
		b.mu.Lock()
		job := b.created
		b.mu.Unlock()
		writeJSON(job)

	case r.Method == http.MethodGet && r.URL.Path == "/build-jobs/active":
		b.mu.Lock()
		job := b.active
		b.mu.Unlock()
		writeJSON(job)

	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/events"):
		jobID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/build-jobs/"), "/events")
		b.liveStreams.Add(1)
		defer b.liveStreams.Add(-1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		ch := b.eventsFor(jobID)
		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				raw, err := json.Marshal(ev)
				if err != nil {
					b.t.Errorf("marshal event: %v", err)
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", raw)
				w.(http.Flusher).Flush()
			}
		}

	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/progress"):
		b.mu.Lock()
		p := b.progress
		b.mu.Unlock()
		writeJSON(p)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel"):
		jobID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/build-jobs/"), "/cancel")
		writeJSON(types.BuildJob{ID: jobID, Status: types.JobCancelled})

	default:
		http.NotFound(w, r)
	}
}

func newTestTracker(t *testing.T, backend *fakeBackend) (*Tracker, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	client, err := api.NewClient(api.ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, mustTestLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	st := store.New(mustTestLogger(t), client, nil)
	t.Cleanup(st.Close)
	tracker := NewTracker(mustTestLogger(t), client, st, nil)
	t.Cleanup(tracker.Close)
	return tracker, st
}

func runningJob(id, pathID string) types.BuildJob {
	return types.BuildJob{ID: id, PathID: pathID, Status: types.JobRunning}
}

func TestStepCompletedMergesAndAutoSelects(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setCreated(runningJob("j1", "p1"))
	tracker, st := newTestTracker(t, backend)

	if err := tracker.CreateBuildJob(context.Background(), "p1"); err != nil {
		t.Fatalf("CreateBuildJob: %v", err)
	}
	backend.eventsFor("j1") <- types.JobProgressEvent{
		BuildJobID: "j1",
		Type:       types.EventStepCompleted,
		StepType:   types.StepGenerateConcepts,
		Message:    "concepts generated",
		Progress:   &types.StepProgress{Completed: 1, Total: 3, Percentage: 33},
		Entities: &types.EventEntities{
			Concepts: []types.Concept{
				{ID: "c1", PathID: "p1", Name: "Loops"},
				{ID: "c2", PathID: "p1", Name: "Recursion"},
			},
		},
	}

	waitFor(t, "streamed concepts in cache", func() bool {
		return st.Concepts.Cache().Len() == 2
	})
	if got := st.Concepts.Cache().SelectedID(); got != "c1" {
		t.Fatalf("selectedID = %q, want first inserted concept c1", got)
	}

	view := tracker.JobState("p1")
	if view.State != StateRunning {
		t.Fatalf("state = %s, want %s", view.State, StateRunning)
	}
	if view.Job.CompletedSteps != 1 || view.Job.TotalSteps != 3 || view.Progress != 33 {
		t.Fatalf("progress = %d/%d (%d%%), want 1/3 (33%%)", view.Job.CompletedSteps, view.Job.TotalSteps, view.Progress)
	}
}

func TestDuplicateEventDeliveryHasNoSideEffects(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setCreated(runningJob("j1", "p1"))
	tracker, st := newTestTracker(t, backend)

	if err := tracker.CreateBuildJob(context.Background(), "p1"); err != nil {
		t.Fatalf("CreateBuildJob: %v", err)
	}
	ev := types.JobProgressEvent{
		BuildJobID: "j1",
		Type:       types.EventStepCompleted,
		StepType:   types.StepGenerateConcepts,
		Message:    "concepts generated",
		Entities: &types.EventEntities{
			Concepts: []types.Concept{
				{ID: "c1", PathID: "p1", Name: "Loops"},
				{ID: "c2", PathID: "p1", Name: "Recursion"},
			},
		},
	}
	backend.eventsFor("j1") <- ev
	waitFor(t, "first delivery merged", func() bool { return st.Concepts.Cache().Len() == 2 })

	// the user moves their selection; a replayed event must not yank it back
	if !st.Concepts.SelectIfPresent("c2") {
		t.Fatalf("could not select c2")
	}

	backend.eventsFor("j1") <- ev
	marker := ev
	marker.Entities = nil
	marker.Message = "marker"
	backend.eventsFor("j1") <- marker
	waitFor(t, "replay processed", func() bool {
		v := tracker.JobState("p1")
		return v.LatestEvent != nil && v.LatestEvent.Message == "marker"
	})

	if got := st.Concepts.Cache().Len(); got != 2 {
		t.Fatalf("replayed event changed cache size: %d, want 2", got)
	}
	if got := st.Concepts.Cache().SelectedID(); got != "c2" {
		t.Fatalf("replayed event re-ran auto-selection: selectedID = %q, want c2", got)
	}
}

func TestJobFailedKeepsMergedEntities(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setCreated(runningJob("j1", "p1"))
	tracker, st := newTestTracker(t, backend)

	if err := tracker.CreateBuildJob(context.Background(), "p1"); err != nil {
		t.Fatalf("CreateBuildJob: %v", err)
	}
	backend.eventsFor("j1") <- types.JobProgressEvent{
		BuildJobID: "j1",
		Type:       types.EventStepCompleted,
		StepType:   types.StepGenerateConcepts,
		Entities: &types.EventEntities{
			Concepts: []types.Concept{{ID: "c1", PathID: "p1", Name: "Loops"}},
		},
	}
	waitFor(t, "partial merge", func() bool { return st.Concepts.Cache().Len() == 1 })

	backend.eventsFor("j1") <- types.JobProgressEvent{
		BuildJobID: "j1",
		Type:       types.EventJobFailed,
		Error:      "generation blew up",
	}
	waitFor(t, "failed state", func() bool { return tracker.JobState("p1").State == StateFailed })

	view := tracker.JobState("p1")
	if view.Err != "generation blew up" {
		t.Fatalf("err = %q, want server error message", view.Err)
	}
	if st.Concepts.Cache().Len() != 1 {
		t.Fatalf("job failure dropped already-merged entities")
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setCreated(runningJob("j1", "p1"))
	tracker, _ := newTestTracker(t, backend)

	if err := tracker.CreateBuildJob(context.Background(), "p1"); err != nil {
		t.Fatalf("CreateBuildJob: %v", err)
	}
	backend.eventsFor("j1") <- types.JobProgressEvent{BuildJobID: "j1", Type: types.EventJobFailed, Error: "boom"}
	waitFor(t, "failed state", func() bool { return tracker.JobState("p1").State == StateFailed })

	// a straggler event for the settled job must be dropped
	tracker.handleEvent("p1", types.JobProgressEvent{BuildJobID: "j1", Type: types.EventJobCompleted})
	if got := tracker.JobState("p1").State; got != StateFailed {
		t.Fatalf("terminal state moved from failed to %s", got)
	}

	waitFor(t, "stream teardown", func() bool { return tracker.subs.activeCount() == 0 })
}

func TestLoadActiveJobWithNoneSettlesQuiet(t *testing.T) {
	backend := newFakeBackend(t)
	tracker, _ := newTestTracker(t, backend)

	if err := tracker.LoadActiveJob(context.Background(), "p1"); err != nil {
		t.Fatalf("LoadActiveJob: %v", err)
	}
	view := tracker.JobState("p1")
	if view.State != StateNoActiveJob {
		t.Fatalf("state = %s, want %s", view.State, StateNoActiveJob)
	}
	if view.Err != "" {
		t.Fatalf("no-job reconciliation set an error: %q", view.Err)
	}
	if got := tracker.subs.activeCount(); got != 0 {
		t.Fatalf("no-job reconciliation opened %d subscriptions", got)
	}
}

func TestAdoptedJobOpensExactlyOneSubscription(t *testing.T) {
	backend := newFakeBackend(t)
	job := runningJob("jA", "p1")
	backend.setActive(&job)
	tracker, _ := newTestTracker(t, backend)

	if err := tracker.LoadActiveJob(context.Background(), "p1"); err != nil {
		t.Fatalf("LoadActiveJob: %v", err)
	}
	if got := tracker.subs.activeCount(); got != 1 {
		t.Fatalf("subscriptions = %d, want 1", got)
	}

	// reconciling again onto the same job must not stack a second stream
	if err := tracker.LoadActiveJob(context.Background(), "p1"); err != nil {
		t.Fatalf("LoadActiveJob (repeat): %v", err)
	}
	if got := tracker.subs.activeCount(); got != 1 {
		t.Fatalf("repeat reconciliation stacked subscriptions: %d", got)
	}

	// the server now reports a different job; the old stream goes first
	next := runningJob("jB", "p1")
	backend.setActive(&next)
	if err := tracker.LoadActiveJob(context.Background(), "p1"); err != nil {
		t.Fatalf("LoadActiveJob (switch): %v", err)
	}
	waitFor(t, "single subscription on jB", func() bool {
		tracker.subs.mu.Lock()
		defer tracker.subs.mu.Unlock()
		_, onB := tracker.subs.byJob["jB"]
		return len(tracker.subs.byJob) == 1 && onB
	})
}

func TestCreateConflictsWithActiveJob(t *testing.T) {
	backend := newFakeBackend(t)
	job := runningJob("jA", "p1")
	backend.setActive(&job)
	tracker, _ := newTestTracker(t, backend)

	if err := tracker.LoadActiveJob(context.Background(), "p1"); err != nil {
		t.Fatalf("LoadActiveJob: %v", err)
	}
	err := tracker.CreateBuildJob(context.Background(), "p1")
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("CreateBuildJob with active job = %v, want ErrConflict", err)
	}
}

func TestCancelAppliesTerminalOnConfirmation(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setCreated(runningJob("j1", "p1"))
	tracker, _ := newTestTracker(t, backend)

	if err := tracker.CreateBuildJob(context.Background(), "p1"); err != nil {
		t.Fatalf("CreateBuildJob: %v", err)
	}
	if err := tracker.CancelJob(context.Background(), "p1"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	waitFor(t, "cancelled state", func() bool { return tracker.JobState("p1").State == StateCancelled })

	if err := tracker.CancelJob(context.Background(), "p1"); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("second cancel = %v, want ErrInvalidArgument", err)
	}
}

func TestConcurrentSubscribesShareOneStream(t *testing.T) {
	backend := newFakeBackend(t)
	tracker, _ := newTestTracker(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.subs.subscribe("p1", "j1"); err != nil {
				t.Errorf("subscribe: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := tracker.subs.activeCount(); got != 1 {
		t.Fatalf("subscriptions = %d, want 1", got)
	}
	waitFor(t, "one live stream", func() bool { return backend.liveStreams.Load() == 1 })
	time.Sleep(150 * time.Millisecond)
	if got := backend.liveStreams.Load(); got != 1 {
		t.Fatalf("live streams = %d after settling, want 1", got)
	}

	tracker.Close()
	waitFor(t, "all streams closed", func() bool { return backend.liveStreams.Load() == 0 })
}

func TestCleanStreamEndReconcilesWithServer(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setCreated(runningJob("j1", "p1"))
	tracker, _ := newTestTracker(t, backend)

	if err := tracker.CreateBuildJob(context.Background(), "p1"); err != nil {
		t.Fatalf("CreateBuildJob: %v", err)
	}
	waitFor(t, "subscription", func() bool { return tracker.subs.activeCount() == 1 })

	// the job finishes server-side but the stream closes cleanly before
	// any terminal event makes it out
	done := types.BuildJob{ID: "j1", PathID: "p1", Status: types.JobCompleted}
	backend.setActive(&done)
	close(backend.eventsFor("j1"))

	waitFor(t, "reconciled terminal state", func() bool {
		return tracker.JobState("p1").State == StateCompleted
	})
	if got := tracker.subs.activeCount(); got != 0 {
		t.Fatalf("subscriptions after terminal reconcile = %d, want 0", got)
	}
}

func TestResumePersistedJobRendersBeforeServerConfirms(t *testing.T) {
	backend := newFakeBackend(t)
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	client, err := api.NewClient(api.ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, mustTestLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	snap, err := snapshot.Open(filepath.Join(t.TempDir(), "pathsync.db"), mustTestLogger(t))
	if err != nil {
		t.Fatalf("snapshot.Open: %v", err)
	}
	t.Cleanup(func() { snap.Close() })
	if err := snap.SaveActiveJob(context.Background(), "p1", "j1", "running"); err != nil {
		t.Fatalf("SaveActiveJob: %v", err)
	}

	st := store.New(mustTestLogger(t), client, nil)
	t.Cleanup(st.Close)
	tracker := NewTracker(mustTestLogger(t), client, st, snap)
	t.Cleanup(tracker.Close)

	if !tracker.ResumePersisted(context.Background(), "p1") {
		t.Fatalf("persisted running job was not resumed")
	}
	view := tracker.JobState("p1")
	if view.State != StateRunning || view.Job.ID != "j1" {
		t.Fatalf("resumed view = %s/%s, want running/j1", view.State, view.Job.ID)
	}
	if got := tracker.subs.activeCount(); got != 0 {
		t.Fatalf("resume opened %d subscriptions before server confirmation", got)
	}

	// the server reports no active job; reconciliation clears the record
	if err := tracker.LoadActiveJob(context.Background(), "p1"); err != nil {
		t.Fatalf("LoadActiveJob: %v", err)
	}
	if got := tracker.JobState("p1").State; got != StateNoActiveJob {
		t.Fatalf("state after reconciliation = %s, want %s", got, StateNoActiveJob)
	}
	if _, err := snap.ActiveJob(context.Background(), "p1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("persisted record after reconciliation = %v, want ErrNotFound", err)
	}
}

func TestUnsubscribeLeavesJobRunning(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setCreated(runningJob("j1", "p1"))
	tracker, _ := newTestTracker(t, backend)

	if err := tracker.CreateBuildJob(context.Background(), "p1"); err != nil {
		t.Fatalf("CreateBuildJob: %v", err)
	}
	waitFor(t, "subscription", func() bool { return tracker.subs.activeCount() == 1 })

	tracker.Unsubscribe("p1")
	waitFor(t, "teardown", func() bool { return tracker.subs.activeCount() == 0 })

	if got := tracker.JobState("p1").State; got != StateRunning {
		t.Fatalf("unsubscribe changed job state to %s, want running", got)
	}

	// deliberate teardown must not look like a dropped stream
	time.Sleep(150 * time.Millisecond)
	if got := tracker.subs.activeCount(); got != 0 {
		t.Fatalf("unsubscribe triggered a reconnect: %d subscriptions", got)
	}
}
