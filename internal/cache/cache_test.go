package cache

import (
	"testing"

	"github.com/yungbote/pathsync/internal/pkg/logger"
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

func concept(id, name string) types.Concept {
	return types.Concept{ID: id, PathID: "p1", Name: name}
}

func TestUpsertManyIsIdempotent(t *testing.T) {
	c := New[types.Concept]("concepts", mustTestLogger(t))

	e := concept("c1", "Loops")
	first := c.UpsertMany([]types.Concept{e, e})
	if len(first) != 1 || first[0] != "c1" {
		t.Fatalf("first merge inserted=%v, want [c1]", first)
	}
	if c.Len() != 1 {
		t.Fatalf("len=%d after duplicate batch, want 1", c.Len())
	}

	second := c.UpsertMany([]types.Concept{e})
	if len(second) != 0 {
		t.Fatalf("re-delivered merge inserted=%v, want none", second)
	}
	if c.Len() != 1 {
		t.Fatalf("len=%d after re-delivery, want 1", c.Len())
	}
}

func TestRemoveOneLeavesDanglingSelection(t *testing.T) {
	c := New[types.Concept]("concepts", mustTestLogger(t))
	c.SetAll([]types.Concept{concept("c1", "Loops"), concept("c2", "Maps")})
	c.Select("c1")

	if !c.RemoveOne("c1") {
		t.Fatalf("RemoveOne(c1) = false, want true")
	}
	if got := c.SelectedID(); got != "c1" {
		t.Fatalf("SelectedID=%q after removal, want dangling c1", got)
	}
	if _, ok := c.Selected(); ok {
		t.Fatalf("Selected() resolved a removed entity")
	}
	if c.Len() != 1 {
		t.Fatalf("len=%d, want 1", c.Len())
	}
}

func TestUpdateOneUnknownIDIsNoOp(t *testing.T) {
	c := New[types.Concept]("concepts", mustTestLogger(t))
	c.SetAll([]types.Concept{concept("c1", "Loops")})

	if c.UpdateOne("missing", concept("missing", "Ghost")) {
		t.Fatalf("UpdateOne on unknown id reported success")
	}
	if c.Len() != 1 {
		t.Fatalf("len=%d, want 1", c.Len())
	}
}

func TestAddOneDuplicateActsAsUpsert(t *testing.T) {
	c := New[types.Concept]("concepts", mustTestLogger(t))
	c.AddOne(concept("c1", "Loops"))
	c.AddOne(concept("c1", "Loops v2"))

	if c.Len() != 1 {
		t.Fatalf("len=%d after duplicate add, want 1", c.Len())
	}
	got, ok := c.Get("c1")
	if !ok || got.Name != "Loops v2" {
		t.Fatalf("Get(c1) = %+v ok=%v, want Loops v2", got, ok)
	}
}

func TestFailureKeepsCollectionAndLoaded(t *testing.T) {
	c := New[types.Concept]("concepts", mustTestLogger(t))
	c.SetAll([]types.Concept{concept("c1", "Loops")})

	c.SetError("boom")
	if c.Err() != "boom" {
		t.Fatalf("Err=%q, want boom", c.Err())
	}
	if !c.Loaded() {
		t.Fatalf("failure cleared loaded flag")
	}
	if c.Len() != 1 {
		t.Fatalf("failure touched the collection, len=%d", c.Len())
	}
}

func TestSetAllPreservesOrderAndClearsError(t *testing.T) {
	c := New[types.Concept]("concepts", mustTestLogger(t))
	c.SetError("stale")
	c.SetAll([]types.Concept{concept("c2", "Maps"), concept("c1", "Loops")})

	all := c.All()
	if len(all) != 2 || all[0].ID != "c2" || all[1].ID != "c1" {
		t.Fatalf("All()=%+v, want server order preserved", all)
	}
	if c.Err() != "" {
		t.Fatalf("SetAll kept error %q", c.Err())
	}
	if !c.Loaded() {
		t.Fatalf("SetAll did not mark loaded")
	}
}
