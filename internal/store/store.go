package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/pathsync/internal/api"
	"github.com/yungbote/pathsync/internal/bus"
	"github.com/yungbote/pathsync/internal/pkg/logger"
	"github.com/yungbote/pathsync/internal/snapshot"
	"github.com/yungbote/pathsync/internal/types"
)

type Op string

const (
	OpLoad         Op = "load"
	OpLoadOne      Op = "load-one"
	OpLoadByParent Op = "load-by-parent"
	OpCreate       Op = "create"
	OpUpdate       Op = "update"
	OpDelete       Op = "delete"
)

// Mutating reports whether an op belongs on the mutation bus. Reads
// never do.
func (op Op) Mutating() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// Mutation announces a dispatched create/update/delete intent.
type Mutation struct {
	Kind     string
	Op       Op
	EntityID string
}

// Store owns one Collection per entity kind and serializes every cache
// write through a single dispatch goroutine, so reducers never race.
// Effects (network calls) run concurrently and feed their one terminal
// result back through the same queue.
type Store struct {
	log      *logger.Logger
	api      *api.Client
	bus      bus.Bus // nil when cross-client fan-out is disabled
	clientID string

	actions chan func()
	quit    chan struct{}
	done    chan struct{}

	subMu        sync.Mutex
	mutationSubs map[int]chan Mutation
	changeSubs   map[int]chan string
	nextSubID    int
	closed       bool

	Paths          *Collection[types.LearningPath]
	Concepts       *Collection[types.Concept]
	SubConcepts    *Collection[types.SubConcept]
	KnowledgeUnits *Collection[types.KnowledgeUnit]
	Challenges     *Collection[types.Challenge]
	Projects       *Collection[types.Project]
	Submissions    *Collection[types.Submission]
	RawContent     *Collection[types.RawContent]
	Sources        *Collection[types.Source]
	UserProgress   *Collection[types.UserProgress]
	Users          *Collection[types.User]

	persistables []persistable
}

func New(baseLog *logger.Logger, apiClient *api.Client, b bus.Bus) *Store {
	s := &Store{
		log:          baseLog.With("component", "Store"),
		api:          apiClient,
		bus:          b,
		clientID:     uuid.New().String(),
		actions:      make(chan func(), 256),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		mutationSubs: make(map[int]chan Mutation),
		changeSubs:   make(map[int]chan string),
	}

	s.Paths = newCollection[types.LearningPath](s, "learning-paths")
	s.Concepts = newCollection[types.Concept](s, "concepts")
	s.SubConcepts = newCollection[types.SubConcept](s, "sub-concepts")
	s.KnowledgeUnits = newCollection[types.KnowledgeUnit](s, "knowledge-units")
	s.Challenges = newCollection[types.Challenge](s, "challenges")
	s.Projects = newCollection[types.Project](s, "projects")
	s.Submissions = newCollection[types.Submission](s, "submissions")
	s.RawContent = newCollection[types.RawContent](s, "raw-content")
	s.Sources = newCollection[types.Source](s, "sources")
	s.UserProgress = newCollection[types.UserProgress](s, "user-progress")
	s.Users = newCollection[types.User](s, "users")

	go s.loop()
	return s
}

func (s *Store) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.actions:
			fn()
		case <-s.quit:
			// drain what is already queued, then stop
			for {
				select {
				case fn := <-s.actions:
					fn()
				default:
					return
				}
			}
		}
	}
}

// dispatch queues a reducer step. Safe from any goroutine.
func (s *Store) dispatch(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.quit:
	}
}

// dispatchWait queues a reducer step and waits for it, used where the
// caller needs the reducer's result (e.g. merge-inserted IDs).
func (s *Store) dispatchWait(fn func()) {
	ch := make(chan struct{})
	s.dispatch(func() {
		fn()
		close(ch)
	})
	select {
	case <-ch:
	case <-s.quit:
	}
}

// Mutations subscribes to the mutation notification bus: one message
// per dispatched create/update/delete intent, never for reads. The
// returned cancel func must be called to release the subscription.
func (s *Store) Mutations() (<-chan Mutation, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Mutation, 16)
	s.mutationSubs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if sub, ok := s.mutationSubs[id]; ok {
			delete(s.mutationSubs, id)
			close(sub)
		}
	}
}

// Changes subscribes to a coarse per-kind change signal emitted after
// any successful cache write, local or remote. Views reload on it.
func (s *Store) Changes() (<-chan string, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan string, 16)
	s.changeSubs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if sub, ok := s.changeSubs[id]; ok {
			delete(s.changeSubs, id)
			close(sub)
		}
	}
}

func (s *Store) emitMutation(m Mutation) {
	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		return
	}
	for _, ch := range s.mutationSubs {
		select {
		case ch <- m:
		default:
			s.log.Warn("dropping mutation notification; subscriber buffer full", "kind", m.Kind, "op", m.Op)
		}
	}
	s.subMu.Unlock()

	if s.bus != nil {
		msg := bus.Message{Kind: m.Kind, Op: string(m.Op), EntityID: m.EntityID, ClientID: s.clientID}
		go func() {
			if err := s.bus.Publish(context.Background(), msg); err != nil {
				s.log.Warn("mutation fan-out publish failed", "error", err)
			}
		}()
	}
}

// NotifyChanged pushes a change signal for a kind. The build-job
// reconciler uses it to tell dependent views to reload authoritative
// state after a job completes.
func (s *Store) NotifyChanged(kinds ...string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		return
	}
	for _, kind := range kinds {
		for _, ch := range s.changeSubs {
			select {
			case ch <- kind:
			default:
			}
		}
	}
}

// StartBusForwarder reloads views when another client mutates, by
// forwarding remote bus messages into the change signal. Own messages
// are filtered by client ID.
func (s *Store) StartBusForwarder(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.StartForwarder(ctx, func(m bus.Message) {
		if m.ClientID == s.clientID {
			return
		}
		s.NotifyChanged(m.Kind)
	})
}

// SaveSnapshot persists every collection's contents.
func (s *Store) SaveSnapshot(ctx context.Context, snap *snapshot.Store) error {
	for _, p := range s.persistables {
		raw, err := p.Export()
		if err != nil {
			return err
		}
		if err := snap.SaveCache(ctx, p.Kind(), raw); err != nil {
			return err
		}
	}
	return nil
}

// RestoreSnapshot merges persisted contents back in. Restored entries
// are stale-but-present: collections stay unloaded until a real fetch.
func (s *Store) RestoreSnapshot(ctx context.Context, snap *snapshot.Store) error {
	for _, p := range s.persistables {
		raw, err := snap.LoadCache(ctx, p.Kind())
		if err != nil {
			return err
		}
		if raw == nil {
			continue
		}
		if err := p.Import(raw); err != nil {
			s.log.Warn("snapshot restore failed for kind, skipping", "kind", p.Kind(), "error", err)
		}
	}
	return nil
}

func (s *Store) Close() {
	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.mutationSubs {
		delete(s.mutationSubs, id)
		close(ch)
	}
	for id, ch := range s.changeSubs {
		delete(s.changeSubs, id)
		close(ch)
	}
	s.subMu.Unlock()

	close(s.quit)
	<-s.done
}
