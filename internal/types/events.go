package types

import "time"

type EventType string

const (
	EventJobStarted    EventType = "job-started"
	EventStepStarted   EventType = "step-started" // legacy alias, still emitted by older servers
	EventStepCompleted EventType = "step-completed"
	EventStepFailed    EventType = "step-failed"
	EventJobCompleted  EventType = "job-completed"
	EventJobFailed     EventType = "job-failed"
)

type StepProgress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// EventEntities carries partial results streamed alongside a
// step-completed event, plus optional selection hints telling the UI
// which parent the new entities hang under.
type EventEntities struct {
	Concepts             []Concept       `json:"concepts,omitempty"`
	SubConcepts          []SubConcept    `json:"subConcepts,omitempty"`
	KnowledgeUnits       []KnowledgeUnit `json:"knowledgeUnits,omitempty"`
	SelectedConceptID    string          `json:"selectedConceptId,omitempty"`
	SelectedSubConceptID string          `json:"selectedSubConceptId,omitempty"`
}

// JobProgressEvent is the discriminated union streamed over the job
// event channel. Only the latest event per job is retained client-side;
// earlier events' effects are already folded into the entity caches.
type JobProgressEvent struct {
	BuildJobID string         `json:"buildJobId"`
	Type       EventType      `json:"type"`
	StepID     string         `json:"stepId,omitempty"`
	StepType   StepType       `json:"stepType,omitempty"`
	Message    string         `json:"message"`
	Progress   *StepProgress  `json:"progress,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Entities   *EventEntities `json:"entities,omitempty"`
}
