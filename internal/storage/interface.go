package storage

import (
	"context"
)

// Store is the request-history log. It is an audit surface only:
// the queue never reads it on the request path and never restores
// state from it after a restart.
type Store interface {
	CreateRecord(ctx context.Context, rec *RequestRecord) error
	GetRecord(ctx context.Context, id string) (*RequestRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]*RequestRecord, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)

	Close() error
}
