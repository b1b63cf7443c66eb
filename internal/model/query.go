package model

import "time"

// QueryStatus represents how far a question got through the pipeline.
type QueryStatus string

const (
	QueryStatusEmpty    QueryStatus = "empty"    // extraction found nothing
	QueryStatusResolved QueryStatus = "resolved" // annotated prompt built
	QueryStatusAnswered QueryStatus = "answered"
	QueryStatusFailed   QueryStatus = "failed"
)

// QueryRecord is the persisted history of one question.
type QueryRecord struct {
	ID              string              `json:"id"`
	Prompt          string              `json:"prompt"`
	Method          Method              `json:"method"`
	Extracted       CandidateProperties `json:"extracted,omitempty"`
	Resolved        ResolvedProperties  `json:"resolved,omitempty"`
	PrimaryKeys     PrimaryKeyBundle    `json:"primary_keys,omitempty"`
	AnnotatedPrompt string              `json:"annotated_prompt"`
	Answer          string              `json:"answer,omitempty"`
	Status          QueryStatus         `json:"status"`
	Error           string              `json:"error,omitempty"`
	CostUSD         float64             `json:"cost_usd"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}
