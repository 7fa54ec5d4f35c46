package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yungbote/pathsync/internal/types"
)

func TestJobsByPathQueriesAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/build-jobs" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("pathId"); got != "p1" {
			t.Errorf("pathId query = %q, want p1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id":"j2","pathId":"p1","status":"completed","completedSteps":3,"totalSteps":3},
			{"id":"j1","pathId":"p1","status":"failed","error":"generation blew up"}
		]`)
	}))
	defer srv.Close()

	jobs, err := newTestClient(t, srv.URL).JobsByPath(context.Background(), "p1")
	if err != nil {
		t.Fatalf("JobsByPath: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].ID != "j2" || jobs[0].Status != types.JobCompleted || jobs[0].CompletedSteps != 3 {
		t.Fatalf("first job = %+v, want completed j2", jobs[0])
	}
	if jobs[1].Status != types.JobFailed || jobs[1].Error != "generation blew up" {
		t.Fatalf("second job = %+v, want failed with error", jobs[1])
	}
}
