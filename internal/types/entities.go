package types

import "time"

// Entities mirror the server's REST payloads. Identifiers are opaque
// strings minted by the server; an entity with an empty ID has not been
// persisted yet and must be created, never updated.

type LearningPath struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (e LearningPath) EntityID() string { return e.ID }

type Concept struct {
	ID          string    `json:"id"`
	PathID      string    `json:"pathId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Order       int       `json:"order,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (e Concept) EntityID() string { return e.ID }

type SubConcept struct {
	ID          string    `json:"id"`
	ConceptID   string    `json:"conceptId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Order       int       `json:"order,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (e SubConcept) EntityID() string { return e.ID }

type KnowledgeUnit struct {
	ID           string    `json:"id"`
	SubConceptID string    `json:"subConceptId"`
	ConceptID    string    `json:"conceptId,omitempty"`
	Name         string    `json:"name"`
	Content      string    `json:"content,omitempty"`
	UnitType     string    `json:"unitType,omitempty"`
	Order        int       `json:"order,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (e KnowledgeUnit) EntityID() string { return e.ID }

type Challenge struct {
	ID              string    `json:"id"`
	KnowledgeUnitID string    `json:"knowledgeUnitId"`
	Title           string    `json:"title"`
	Prompt          string    `json:"prompt,omitempty"`
	Difficulty      string    `json:"difficulty,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (e Challenge) EntityID() string { return e.ID }

type Project struct {
	ID          string    `json:"id"`
	PathID      string    `json:"pathId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (e Project) EntityID() string { return e.ID }

type Submission struct {
	ID          string    `json:"id"`
	ChallengeID string    `json:"challengeId"`
	UserID      string    `json:"userId"`
	Body        string    `json:"body,omitempty"`
	Status      string    `json:"status,omitempty"`
	Score       int       `json:"score,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (e Submission) EntityID() string { return e.ID }

type RawContent struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"sourceId"`
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (e RawContent) EntityID() string { return e.ID }

type Source struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (e Source) EntityID() string { return e.ID }

type UserProgress struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	PathID          string    `json:"pathId"`
	KnowledgeUnitID string    `json:"knowledgeUnitId,omitempty"`
	Status          string    `json:"status,omitempty"`
	Score           int       `json:"score,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (e UserProgress) EntityID() string { return e.ID }

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (e User) EntityID() string { return e.ID }
