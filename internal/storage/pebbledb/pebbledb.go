package pebbledb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/resumeforge/aiqueue/internal/storage"
	"github.com/resumeforge/aiqueue/pkg/types"
)

// Key prefixes
const (
	prefixRec   = "rec:"   // rec:{id} → record JSON
	prefixSt    = "st:"    // st:{status}:{ts}:{id} → empty
	prefixOwner = "ow:"    // ow:{owner}:{ts}:{id} → empty
	prefixCount = "count:" // count:{status} → int64
)

type PebbleStore struct {
	db          *pebble.DB
	batchWriter *BatchWriter
	useBatch    bool
}

type recordData struct {
	ID           string  `json:"id"`
	OwnerID      string  `json:"owner_id"`
	Kind         string  `json:"kind"`
	Priority     string  `json:"priority"`
	Status       string  `json:"status"`
	Provider     string  `json:"provider,omitempty"`
	Model        string  `json:"model,omitempty"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cached       bool    `json:"cached"`
	Error        *string `json:"error,omitempty"`
	SubmittedAt  int64   `json:"submitted_at"` // Unix nano
	CompletedAt  int64   `json:"completed_at"` // Unix nano
	DurationMs   int64   `json:"duration_ms"`
	Attempts     int     `json:"attempts"`
}

func New(dbPath string, useBatch bool) (*PebbleStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := &pebble.Options{
		Merger: &pebble.Merger{
			Name: "int64_add",
			Merge: func(key, value []byte) (pebble.ValueMerger, error) {
				return &int64Merger{sum: decodeInt64(value)}, nil
			},
		},
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	store := &PebbleStore{
		db:       db,
		useBatch: useBatch,
	}

	if useBatch {
		store.batchWriter = NewBatchWriter(db, DefaultBatchWriterConfig())
	}

	return store, nil
}

func (s *PebbleStore) Close() error {
	// Close batch writer first to flush remaining writes
	if s.batchWriter != nil {
		if err := s.batchWriter.Close(); err != nil {
			return fmt.Errorf("failed to close batch writer: %w", err)
		}
	}
	return s.db.Close()
}

func recKey(id string) []byte {
	return []byte(prefixRec + id)
}

func stKey(status string, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixSt, status, ts, id))
}

func stPrefix(status string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixSt, status))
}

func ownerKey(owner string, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixOwner, owner, ts, id))
}

func ownerPrefix(owner string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOwner, owner))
}

func countKey(status string) []byte {
	return []byte(prefixCount + status)
}

func encodeInt64(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func decodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

type int64Merger struct {
	sum int64
}

func (m *int64Merger) MergeNewer(value []byte) error {
	m.sum += decodeInt64(value)
	return nil
}

func (m *int64Merger) MergeOlder(value []byte) error {
	m.sum += decodeInt64(value)
	return nil
}

func (m *int64Merger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	return encodeInt64(m.sum), nil, nil
}

func upperBound(prefix []byte) []byte {
	ub := make([]byte, len(prefix))
	copy(ub, prefix)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub
		}
		ub[i] = 0
	}
	return append(ub, 0)
}

func (s *PebbleStore) CreateRecord(ctx context.Context, rec *storage.RequestRecord) error {
	data := toRecordData(rec)

	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if s.useBatch {
		// Queue writes to batch writer for batched commits
		s.batchWriter.Set(recKey(rec.ID), value)
		s.batchWriter.Set(stKey(data.Status, data.CompletedAt, rec.ID), nil)
		s.batchWriter.Set(ownerKey(data.OwnerID, data.CompletedAt, rec.ID), nil)
		s.batchWriter.Merge(countKey(data.Status), encodeInt64(1))
		return nil
	}

	// Direct sync writes
	batch := s.db.NewBatch()
	defer batch.Close()
	batch.Set(recKey(rec.ID), value, nil)
	batch.Set(stKey(data.Status, data.CompletedAt, rec.ID), nil, nil)
	batch.Set(ownerKey(data.OwnerID, data.CompletedAt, rec.ID), nil, nil)
	batch.Merge(countKey(data.Status), encodeInt64(1), nil)
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) GetRecord(ctx context.Context, id string) (*storage.RequestRecord, error) {
	data, err := s.getRecordData(id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return toRequestRecord(data), nil
}

func (s *PebbleStore) getRecordData(id string) (*recordData, error) {
	value, closer, err := s.db.Get(recKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	defer closer.Close()

	var data recordData
	if err := json.Unmarshal(value, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &data, nil
}

func (s *PebbleStore) ListRecords(ctx context.Context, filter storage.RecordFilter) ([]*storage.RequestRecord, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	// Pick the narrowest index for the filter; status filtering falls
	// back to a scan of the chosen index when both are set. With no
	// filter at all, both status indexes are scanned and merged by the
	// timestamp embedded in the keys so output stays globally
	// newest-first across statuses.
	var prefixes [][]byte
	switch {
	case filter.OwnerID != nil:
		prefixes = [][]byte{ownerPrefix(*filter.OwnerID)}
	case filter.Status != nil:
		prefixes = [][]byte{stPrefix(string(*filter.Status))}
	default:
		prefixes = [][]byte{
			stPrefix(string(types.RecordCompleted)),
			stPrefix(string(types.RecordFailed)),
		}
	}

	iters := make([]*pebble.Iterator, 0, len(prefixes))
	defer func() {
		for _, iter := range iters {
			iter.Close()
		}
	}()

	for _, p := range prefixes {
		iter, err := s.db.NewIter(&pebble.IterOptions{
			LowerBound: p,
			UpperBound: upperBound(p),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create iterator: %w", err)
		}
		iter.Last()
		iters = append(iters, iter)
	}

	var records []*storage.RequestRecord
	total := 0

	for {
		// Advance whichever iterator currently sits on the newest key.
		best := -1
		var bestTs int64
		for i, iter := range iters {
			if !iter.Valid() {
				continue
			}
			ts := extractTsFromIndexKey(iter.Key())
			if best == -1 || ts > bestTs {
				best, bestTs = i, ts
			}
		}
		if best == -1 {
			break
		}

		id := extractIDFromIndexKey(iters[best].Key())
		iters[best].Prev()
		if id == "" {
			continue
		}

		data, err := s.getRecordData(id)
		if err != nil {
			return nil, 0, err
		}
		if data == nil {
			continue
		}

		if filter.Status != nil && data.Status != string(*filter.Status) {
			continue
		}

		total++
		if filter.Cursor != nil && data.CompletedAt >= filter.Cursor.UnixNano() {
			continue
		}
		if len(records) < limit {
			records = append(records, toRequestRecord(data))
		}
	}

	return records, total, nil
}

func (s *PebbleStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, status := range []types.RecordStatus{types.RecordCompleted, types.RecordFailed} {
		counts[string(status)] = int(s.getCount(string(status)))
	}
	return counts, nil
}

func (s *PebbleStore) getCount(status string) int64 {
	value, closer, err := s.db.Get(countKey(status))
	if err != nil {
		return 0
	}
	defer closer.Close()
	return decodeInt64(value)
}

// --- Conversion helpers ---

func toRecordData(rec *storage.RequestRecord) *recordData {
	return &recordData{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		Kind:         string(rec.Kind),
		Priority:     string(rec.Priority),
		Status:       string(rec.Status),
		Provider:     rec.Provider,
		Model:        rec.Model,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		TotalTokens:  rec.TotalTokens,
		Cached:       rec.Cached,
		Error:        rec.Error,
		SubmittedAt:  rec.SubmittedAt.UnixNano(),
		CompletedAt:  rec.CompletedAt.UnixNano(),
		DurationMs:   rec.DurationMs,
		Attempts:     rec.Attempts,
	}
}

func toRequestRecord(data *recordData) *storage.RequestRecord {
	return &storage.RequestRecord{
		ID:           data.ID,
		OwnerID:      data.OwnerID,
		Kind:         types.RequestKind(data.Kind),
		Priority:     types.Priority(data.Priority),
		Status:       types.RecordStatus(data.Status),
		Provider:     data.Provider,
		Model:        data.Model,
		InputTokens:  data.InputTokens,
		OutputTokens: data.OutputTokens,
		TotalTokens:  data.TotalTokens,
		Cached:       data.Cached,
		Error:        data.Error,
		SubmittedAt:  time.Unix(0, data.SubmittedAt),
		CompletedAt:  time.Unix(0, data.CompletedAt),
		DurationMs:   data.DurationMs,
		Attempts:     data.Attempts,
	}
}

// extractIDFromIndexKey extracts the record ID from an index key.
// Key format: {prefix}{value}:{ts}:{id}
func extractIDFromIndexKey(key []byte) string {
	parts := bytes.Split(key, []byte(":"))
	if len(parts) >= 4 {
		return string(parts[len(parts)-1])
	}
	return ""
}

// extractTsFromIndexKey extracts the zero-padded completion timestamp
// from an index key.
func extractTsFromIndexKey(key []byte) int64 {
	parts := bytes.Split(key, []byte(":"))
	if len(parts) < 4 {
		return 0
	}
	ts, err := strconv.ParseInt(string(parts[len(parts)-2]), 10, 64)
	if err != nil {
		return 0
	}
	return ts
}
