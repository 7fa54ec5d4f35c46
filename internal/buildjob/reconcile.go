package buildjob

import (
	"github.com/yungbote/pathsync/internal/types"
)

// applyStepEntities folds a step-completed payload into the entity
// caches. Merges are idempotent (reconnect replay safe); auto-selection
// keys off what the merge actually inserted, never off delivery count.
func (t *Tracker) applyStepEntities(ev types.JobProgressEvent) {
	ents := ev.Entities
	if ents == nil {
		return
	}
	switch ev.StepType {
	case types.StepGenerateConcepts:
		inserted := t.store.Concepts.Merge(ents.Concepts)
		if len(inserted) > 0 {
			// focus the first new concept so the sub-concept column
			// opens without a click
			t.store.Concepts.SelectIfPresent(inserted[0])
		}
	case types.StepDecomposeConcept:
		t.store.SubConcepts.Merge(ents.SubConcepts)
		if ents.SelectedConceptID != "" {
			t.store.Concepts.SelectIfPresent(ents.SelectedConceptID)
		}
	case types.StepGenerateKU:
		t.store.KnowledgeUnits.Merge(ents.KnowledgeUnits)
		if ents.SelectedConceptID != "" {
			t.store.Concepts.SelectIfPresent(ents.SelectedConceptID)
		}
		if ents.SelectedSubConceptID != "" {
			t.store.SubConcepts.SelectIfPresent(ents.SelectedSubConceptID)
		}
	default:
		t.log.Debug("step-completed with unrecognized stepType", "stepType", ev.StepType, "jobID", ev.BuildJobID)
	}
}
