package pebbledb

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
)

type BatchWriterConfig struct {
	MaxBatchSize      int // Flush after this many ops
	FlushInterval     time.Duration
	ChannelBufferSize int
}

func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		MaxBatchSize:      500,
		FlushInterval:     time.Second,
		ChannelBufferSize: 100000,
	}
}

type writeOp struct {
	key   []byte
	value []byte
	merge bool
}

// BatchWriter absorbs bursts of history writes and commits them in
// batches. Terminal request outcomes arrive one at a time but spike
// with queue throughput; batching keeps the sync-commit cost off the
// hot path.
type BatchWriter struct {
	db      *pebble.DB
	config  BatchWriterConfig
	opCh    chan writeOp
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped atomic.Bool
}

func NewBatchWriter(db *pebble.DB, config BatchWriterConfig) *BatchWriter {
	if config.MaxBatchSize == 0 {
		config.MaxBatchSize = 500
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = time.Second
	}
	if config.ChannelBufferSize == 0 {
		config.ChannelBufferSize = 100000
	}

	bw := &BatchWriter{
		db:     db,
		config: config,
		opCh:   make(chan writeOp, config.ChannelBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go bw.flusher()

	return bw
}

// Set queues a Set operation (lock-free)
func (bw *BatchWriter) Set(key, value []byte) {
	if bw.stopped.Load() {
		return
	}
	bw.opCh <- writeOp{key: key, value: value}
}

func (bw *BatchWriter) Merge(key, value []byte) {
	if bw.stopped.Load() {
		return
	}
	bw.opCh <- writeOp{key: key, value: value, merge: true}
}

func (bw *BatchWriter) Close() error {
	if bw.stopped.Swap(true) {
		return nil // Already stopped
	}
	close(bw.stopCh)
	<-bw.doneCh // Wait for flusher to finish
	return nil
}

func (bw *BatchWriter) flusher() {
	defer close(bw.doneCh)

	ticker := time.NewTicker(bw.config.FlushInterval)
	defer ticker.Stop()

	batch := bw.db.NewBatch()
	opCount := 0

	flush := func() {
		if opCount == 0 {
			return
		}
		if err := batch.Commit(pebble.Sync); err != nil {
			// History writes are best effort; dropping a batch is
			// preferable to stalling the queue.
			log.Printf("history batch commit failed, %d ops lost: %v", opCount, err)
		}
		batch.Close()
		batch = bw.db.NewBatch()
		opCount = 0
	}

	apply := func(op writeOp) {
		if op.merge {
			batch.Merge(op.key, op.value, nil)
		} else {
			batch.Set(op.key, op.value, nil)
		}
		opCount++
	}

	for {
		select {
		case op := <-bw.opCh:
			apply(op)
			if opCount >= bw.config.MaxBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-bw.stopCh:
			// Drain remaining operations from channel
			for {
				select {
				case op := <-bw.opCh:
					apply(op)
				default:
					flush()
					batch.Close()
					return
				}
			}
		}
	}
}
