package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	apperrors "github.com/yungbote/pathsync/internal/pkg/errors"
	"github.com/yungbote/pathsync/internal/pkg/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	s, err := Open(filepath.Join(t.TempDir(), "pathsync.db"), log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	payload := []byte(`[{"id":"c1","pathId":"p1","name":"Loops"}]`)
	if err := s.SaveCache(ctx, "concepts", payload); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	got, err := s.LoadCache(ctx, "concepts")
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload = %s, want %s", got, payload)
	}

	// overwrite is an upsert on the kind key
	if err := s.SaveCache(ctx, "concepts", []byte(`[]`)); err != nil {
		t.Fatalf("SaveCache (overwrite): %v", err)
	}
	got, err = s.LoadCache(ctx, "concepts")
	if err != nil {
		t.Fatalf("LoadCache (overwrite): %v", err)
	}
	if string(got) != `[]` {
		t.Fatalf("overwritten payload = %s, want []", got)
	}
}

func TestLoadCacheMissingKind(t *testing.T) {
	s := openTestStore(t)
	got, err := s.LoadCache(context.Background(), "never-saved")
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if got != nil {
		t.Fatalf("missing kind returned payload %s, want nil", got)
	}
}

func TestActiveJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.ActiveJob(ctx, "p1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("ActiveJob before save = %v, want ErrNotFound", err)
	}

	if err := s.SaveActiveJob(ctx, "p1", "j1", "running"); err != nil {
		t.Fatalf("SaveActiveJob: %v", err)
	}
	rec, err := s.ActiveJob(ctx, "p1")
	if err != nil {
		t.Fatalf("ActiveJob: %v", err)
	}
	if rec.JobID != "j1" || rec.Status != "running" {
		t.Fatalf("record = %+v, want j1/running", rec)
	}

	if err := s.SaveActiveJob(ctx, "p1", "j1", "pending"); err != nil {
		t.Fatalf("SaveActiveJob (update): %v", err)
	}
	rec, err = s.ActiveJob(ctx, "p1")
	if err != nil {
		t.Fatalf("ActiveJob (update): %v", err)
	}
	if rec.Status != "pending" {
		t.Fatalf("status = %s, want pending", rec.Status)
	}

	if err := s.ClearActiveJob(ctx, "p1"); err != nil {
		t.Fatalf("ClearActiveJob: %v", err)
	}
	if _, err := s.ActiveJob(ctx, "p1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("ActiveJob after clear = %v, want ErrNotFound", err)
	}
}
