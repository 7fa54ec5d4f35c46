package buildjob

import (
	"context"
	"sync"
)

type subscription struct {
	jobID  string
	pathID string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// subscriptionManager enforces the at-most-one-live-subscription
// invariant: one stream per job, one job per path. Subscribing a path
// to a new job tears the previous stream down first.
type subscriptionManager struct {
	tracker *Tracker

	mu     sync.Mutex
	byJob  map[string]*subscription
	byPath map[string]*subscription
}

func newSubscriptionManager(t *Tracker) *subscriptionManager {
	return &subscriptionManager{
		tracker: t,
		byJob:   make(map[string]*subscription),
		byPath:  make(map[string]*subscription),
	}
}

// subscribe opens the event stream for a job. The path/job slot is
// claimed in the maps before dialing, so concurrent calls for the same
// slot cannot open a second stream.
func (m *subscriptionManager) subscribe(pathID, jobID string) error {
	var sub *subscription
	for {
		m.mu.Lock()
		if existing, ok := m.byJob[jobID]; ok && existing.pathID == pathID {
			m.mu.Unlock()
			return nil
		}
		prior := m.byPath[pathID]
		if prior == nil {
			ctx, cancel := context.WithCancel(context.Background())
			sub = &subscription{jobID: jobID, pathID: pathID, ctx: ctx, cancel: cancel, done: make(chan struct{})}
			m.byJob[jobID] = sub
			m.byPath[pathID] = sub
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()
		prior.cancel()
		<-prior.done
	}

	stream, err := m.tracker.api.StreamJobEvents(sub.ctx, jobID)
	if err != nil {
		sub.cancel()
		m.remove(sub)
		close(sub.done)
		return err
	}

	m.tracker.log.Debug("subscribed to job events", "pathID", pathID, "jobID", jobID)

	go func() {
		defer close(sub.done)
		defer m.remove(sub)
		for ev := range stream.Events {
			m.tracker.handleEvent(pathID, ev)
		}
		streamErr, _ := <-stream.Errs
		// a stream that ends while the job is still live means status
		// unknown, with or without a transport error; deliberate
		// teardown (cancelled context) is the one exception
		if sub.ctx.Err() == nil && m.tracker.jobStillLive(pathID, jobID) {
			go m.tracker.onStreamEnd(pathID, jobID, streamErr)
		}
	}()

	return nil
}

func (m *subscriptionManager) remove(sub *subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byJob[sub.jobID] == sub {
		delete(m.byJob, sub.jobID)
	}
	if m.byPath[sub.pathID] == sub {
		delete(m.byPath, sub.pathID)
	}
}

// cancelJob tears the stream down without waiting for the reader
// goroutine; safe to call from the event path itself.
func (m *subscriptionManager) cancelJob(jobID string) {
	m.mu.Lock()
	sub := m.byJob[jobID]
	m.mu.Unlock()
	if sub != nil {
		sub.cancel()
	}
}

func (m *subscriptionManager) stopPath(pathID string) {
	m.mu.Lock()
	sub := m.byPath[pathID]
	m.mu.Unlock()
	if sub != nil {
		sub.cancel()
		<-sub.done
	}
}

func (m *subscriptionManager) stopAll() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.byJob))
	for _, sub := range m.byJob {
		subs = append(subs, sub)
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}

// activeCount is used by tests to assert the invariant.
func (m *subscriptionManager) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byJob)
}
