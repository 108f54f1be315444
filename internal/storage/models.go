package storage

import (
	"time"

	"github.com/resumeforge/aiqueue/pkg/types"
)

// RequestRecord is one terminal request outcome.
type RequestRecord struct {
	ID           string
	OwnerID      string
	Kind         types.RequestKind
	Priority     types.Priority
	Status       types.RecordStatus
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Cached       bool
	Error        *string
	SubmittedAt  time.Time
	CompletedAt  time.Time
	DurationMs   int64
	Attempts     int
}

type RecordFilter struct {
	OwnerID *string
	Status  *types.RecordStatus
	Limit   int
	Cursor  *time.Time // completed_at cursor, get records before this time
}
