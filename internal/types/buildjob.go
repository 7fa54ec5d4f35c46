package types

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job can accept further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

type StepType string

const (
	StepGenerateConcepts StepType = "generate-concepts"
	StepDecomposeConcept StepType = "decompose-concept"
	StepGenerateKU       StepType = "generate-ku"
)

type JobStep struct {
	ID         string     `json:"id"`
	BuildJobID string     `json:"buildJobId"`
	Type       StepType   `json:"type"`
	Stage      string     `json:"stage,omitempty"`
	Status     string     `json:"status"`
	Name       string     `json:"name,omitempty"`
	Order      int        `json:"order,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// BuildJob is a server-owned, multi-stage content-generation task tied
// to one learning path. The client never mutates it directly; it only
// reflects what the server reports over REST and the event stream.
type BuildJob struct {
	ID               string    `json:"id"`
	PathID           string    `json:"pathId"`
	Status           JobStatus `json:"status"`
	TotalSteps       int       `json:"totalSteps"`
	CompletedSteps   int       `json:"completedSteps"`
	FailedSteps      int       `json:"failedSteps"`
	CurrentOperation string    `json:"currentOperation,omitempty"`
	Steps            []JobStep `json:"steps,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (e BuildJob) EntityID() string { return e.ID }

type CreateBuildJobRequest struct {
	PathID string `json:"pathId"`
}

type JobProgressResponse struct {
	Job        BuildJob  `json:"job"`
	Steps      []JobStep `json:"steps"`
	Percentage int       `json:"percentage"`
}
