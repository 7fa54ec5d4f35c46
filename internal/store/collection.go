package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/yungbote/pathsync/internal/api"
	"github.com/yungbote/pathsync/internal/cache"
)

type persistable interface {
	Kind() string
	Export() ([]byte, error)
	Import(raw []byte) error
}

// Collection wires one entity kind's cache to its REST resource and
// the dispatch pipeline. Intent methods are fire-and-forget: they queue
// an effect and return; the effect resolves into exactly one terminal
// cache write (success) or error set (failure).
type Collection[T cache.Entity] struct {
	kind  string
	store *Store
	cache *cache.Cache[T]
	res   *api.Resource[T]

	// reads are cancel-and-replace-by-latest per op; writes run free
	readMu      sync.Mutex
	readCancels map[Op]context.CancelFunc
}

func newCollection[T cache.Entity](s *Store, kind string) *Collection[T] {
	col := &Collection[T]{
		kind:        kind,
		store:       s,
		cache:       cache.New[T](kind, s.log),
		res:         api.NewResource[T](s.api, kind),
		readCancels: make(map[Op]context.CancelFunc),
	}
	s.persistables = append(s.persistables, col)
	return col
}

func (col *Collection[T]) Kind() string { return col.kind }

// Cache exposes the read accessors (all/selected/loaded/error).
func (col *Collection[T]) Cache() *cache.Cache[T] { return col.cache }

// beginRead supersedes any in-flight read of the same op.
func (col *Collection[T]) beginRead(ctx context.Context, op Op) context.Context {
	col.readMu.Lock()
	defer col.readMu.Unlock()
	if cancel, ok := col.readCancels[op]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	col.readCancels[op] = cancel
	return ctx
}

func (col *Collection[T]) endRead(op Op, ctx context.Context) {
	col.readMu.Lock()
	defer col.readMu.Unlock()
	// only clear if this read is still the latest
	if ctx.Err() == nil {
		if cancel, ok := col.readCancels[op]; ok {
			cancel()
			delete(col.readCancels, op)
		}
	}
}

func (col *Collection[T]) fail(err error) {
	if errors.Is(err, context.Canceled) {
		// superseded read, not a failure
		return
	}
	msg := api.FormatError(err)
	col.store.dispatch(func() {
		col.cache.SetError(msg)
	})
}

// applyLoaded commits a bulk fetch unless the read was superseded after
// the response already arrived; the newer read owns the cache then.
func (col *Collection[T]) applyLoaded(ctx context.Context, items []T) {
	col.store.dispatch(func() {
		if ctx.Err() != nil {
			return
		}
		col.cache.SetAll(items)
		col.store.NotifyChanged(col.kind)
	})
}

func (col *Collection[T]) applyLoadedOne(ctx context.Context, item T) {
	col.store.dispatch(func() {
		if ctx.Err() != nil {
			return
		}
		col.cache.UpsertOne(item)
		col.store.NotifyChanged(col.kind)
	})
}

// Load fetches the whole collection.
func (col *Collection[T]) Load(ctx context.Context) {
	ctx = col.beginRead(ctx, OpLoad)
	col.store.dispatch(func() { col.cache.BeginLoad() })
	go func() {
		defer col.endRead(OpLoad, ctx)
		items, err := col.res.All(ctx)
		if err != nil {
			col.fail(err)
			return
		}
		col.applyLoaded(ctx, items)
	}()
}

// LoadByParent fetches the collection scoped to a parent entity, e.g.
// concepts by pathId.
func (col *Collection[T]) LoadByParent(ctx context.Context, parentKey, parentID string) {
	ctx = col.beginRead(ctx, OpLoadByParent)
	col.store.dispatch(func() { col.cache.BeginLoad() })
	go func() {
		defer col.endRead(OpLoadByParent, ctx)
		items, err := col.res.FindByParent(ctx, parentKey, parentID)
		if err != nil {
			col.fail(err)
			return
		}
		col.applyLoaded(ctx, items)
	}()
}

// LoadOne fetches a single entity and upserts it.
func (col *Collection[T]) LoadOne(ctx context.Context, id string) {
	ctx = col.beginRead(ctx, OpLoadOne)
	go func() {
		defer col.endRead(OpLoadOne, ctx)
		item, err := col.res.Find(ctx, id)
		if err != nil {
			col.fail(err)
			return
		}
		col.applyLoadedOne(ctx, item)
	}()
}

// Create persists a new entity. The intent lands on the mutation bus
// immediately; the cache only changes once the server echoes the
// created entity back.
func (col *Collection[T]) Create(ctx context.Context, item T) {
	col.store.emitMutation(Mutation{Kind: col.kind, Op: OpCreate})
	go func() {
		created, err := col.res.Create(ctx, item)
		if err != nil {
			col.fail(err)
			return
		}
		col.store.dispatch(func() {
			col.cache.AddOne(created)
			col.store.NotifyChanged(col.kind)
		})
	}()
}

// Update sends a partial update. Concurrent updates are not collapsed;
// the later completion wins at the cache.
func (col *Collection[T]) Update(ctx context.Context, id string, item T) {
	col.store.emitMutation(Mutation{Kind: col.kind, Op: OpUpdate, EntityID: id})
	go func() {
		updated, err := col.res.Update(ctx, id, item)
		if err != nil {
			col.fail(err)
			return
		}
		col.store.dispatch(func() {
			col.cache.UpdateOne(id, updated)
			col.store.NotifyChanged(col.kind)
		})
	}()
}

// Delete removes an entity. A selection pointing at it goes dangling,
// which readers tolerate.
func (col *Collection[T]) Delete(ctx context.Context, id string) {
	col.store.emitMutation(Mutation{Kind: col.kind, Op: OpDelete, EntityID: id})
	go func() {
		if _, err := col.res.Delete(ctx, id); err != nil {
			col.fail(err)
			return
		}
		col.store.dispatch(func() {
			col.cache.RemoveOne(id)
			col.store.NotifyChanged(col.kind)
		})
	}()
}

func (col *Collection[T]) Select(id string) {
	col.store.dispatch(func() { col.cache.Select(id) })
}

func (col *Collection[T]) ClearSelection() {
	col.store.dispatch(func() { col.cache.ClearSelection() })
}

// Merge folds streamed entities in and reports which were new. Runs on
// the dispatch loop and blocks until applied, so the reconciler can key
// auto-selection off the result.
func (col *Collection[T]) Merge(items []T) []string {
	if len(items) == 0 {
		return nil
	}
	var inserted []string
	col.store.dispatchWait(func() {
		inserted = col.cache.UpsertMany(items)
		col.store.NotifyChanged(col.kind)
	})
	return inserted
}

// SelectIfPresent applies a selection hint only when the target exists;
// an absent hint is dropped silently (network reordering).
func (col *Collection[T]) SelectIfPresent(id string) bool {
	applied := false
	col.store.dispatchWait(func() {
		if _, ok := col.cache.Get(id); ok {
			col.cache.Select(id)
			applied = true
		}
	})
	return applied
}

func (col *Collection[T]) Export() ([]byte, error) {
	return json.Marshal(col.cache.All())
}

func (col *Collection[T]) Import(raw []byte) error {
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	col.store.dispatchWait(func() {
		col.cache.UpsertMany(items)
	})
	return nil
}
