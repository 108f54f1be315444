package types

import "time"

type RequestKind string

const (
	KindContentGeneration RequestKind = "content-generation"
	KindAnalysis          RequestKind = "analysis"
	KindOptimization      RequestKind = "optimization"
	KindContext           RequestKind = "context"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Weight maps a priority to its dispatch weight. Higher weights are
// dispatched first among waiting requests.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 10
	case PriorityLow:
		return 1
	default:
		return 5
	}
}

// Valid reports whether p is one of the recognized priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// Request is a unit of work submitted for AI processing. The queue
// treats Prompt and Context as opaque; Kind is used only for provider
// routing and cache-key derivation.
type Request struct {
	ID          string                 `json:"id"`
	Kind        RequestKind            `json:"kind"`
	Prompt      string                 `json:"prompt"`
	Context     map[string]interface{} `json:"context,omitempty"`
	OwnerID     string                 `json:"owner_id"`
	Priority    Priority               `json:"priority"`
	SubmittedAt time.Time              `json:"submitted_at"`
}

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the result of processing a Request. Immutable once
// created; Cached is set when the response was served from the
// response cache rather than a fresh provider call.
type Response struct {
	ID             string     `json:"id"`
	RequestID      string     `json:"request_id"`
	Content        string     `json:"content"`
	Provider       string     `json:"provider"`
	Model          string     `json:"model"`
	Usage          TokenUsage `json:"usage"`
	ProcessingTime int64      `json:"processing_time_ms"`
	Cached         bool       `json:"cached"`
}
