package types

import "time"

// QueueStatus is a snapshot of the queue's aggregate counters.
// Completed + Failed == TotalProcessed at any observation point.
type QueueStatus struct {
	Pending        int `json:"pending"`
	Processing     int `json:"processing"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	TotalProcessed int `json:"total_processed"`
}

// RateLimitStatus is the read-only throttling view for one owner.
type RateLimitStatus struct {
	RequestsRemaining int       `json:"requests_remaining"`
	ResetTime         time.Time `json:"reset_time"`
	IsLimited         bool      `json:"is_limited"`
}

type ProviderStatus string

const (
	ProviderHealthy  ProviderStatus = "healthy"
	ProviderDegraded ProviderStatus = "degraded"
	ProviderDown     ProviderStatus = "down"
)

// ProviderHealth describes one upstream provider as observed by the
// client facade.
type ProviderHealth struct {
	Status       ProviderStatus `json:"status"`
	ResponseTime int64          `json:"response_time_ms"`
	ErrorRate    float64        `json:"error_rate"`
	LastCheck    time.Time      `json:"last_check"`
}

type RecordStatus string

const (
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// RequestLogEntry is the wire form of one request-history record.
type RequestLogEntry struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"owner_id"`
	Kind         RequestKind  `json:"kind"`
	Priority     Priority     `json:"priority"`
	Status       RecordStatus `json:"status"`
	Provider     string       `json:"provider,omitempty"`
	Model        string       `json:"model,omitempty"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
	Cached       bool         `json:"cached"`
	Error        *string      `json:"error,omitempty"`
	SubmittedAt  string       `json:"submitted_at"`
	CompletedAt  string       `json:"completed_at"`
	DurationMs   int64        `json:"duration_ms"`
	AttemptsUsed int          `json:"attempts_used"`
}

type ListRequestLogResponse struct {
	Requests   []RequestLogEntry `json:"requests"`
	Total      int               `json:"total"`
	Limit      int               `json:"limit"`
	NextCursor *string           `json:"next_cursor,omitempty"`
}

type ErrorResponse struct {
	Error     string     `json:"error"`
	ResetTime *time.Time `json:"reset_time,omitempty"`
}
