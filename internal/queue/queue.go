// Package queue implements admission control, priority scheduling and
// bounded-concurrency execution for outbound AI completion requests.
//
// Flow per request: rate-limit check, cache lookup, enqueue at
// priority, dispatch when a concurrency slot and a dispatch-rate
// token are free, retry-wrapped provider call, best-effort cache and
// history writes.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/resumeforge/aiqueue/internal/cache"
	"github.com/resumeforge/aiqueue/internal/provider"
	"github.com/resumeforge/aiqueue/internal/ratelimit"
	"github.com/resumeforge/aiqueue/internal/retry"
	"github.com/resumeforge/aiqueue/internal/storage"
	"github.com/resumeforge/aiqueue/pkg/types"
)

var (
	ErrQueueClosed  = errors.New("queue is shut down")
	ErrQueueCleared = errors.New("request dropped by queue clear")
)

type Config struct {
	ConcurrentRequests int
	DispatchPerMinute  int
	RetryAttempts      int
	RetryMinDelay      time.Duration
	RetryMaxDelay      time.Duration

	// AttemptTimeout bounds a single provider call so a hung upstream
	// cannot hold a concurrency slot forever. Zero disables it.
	AttemptTimeout time.Duration
}

// Queue is the orchestrator. All collaborators are injected; it holds
// no cross-request mutable state besides the pending set and the
// aggregate statistics, both guarded by mu.
type Queue struct {
	limiter *ratelimit.Limiter
	cache   *cache.ResponseCache
	client  provider.Client
	history storage.Store // optional, best effort
	cfg     Config

	mu      sync.Mutex
	pending pendingHeap
	seq     uint64
	stats   types.QueueStatus
	closed  bool

	sem          *semaphore.Weighted
	dispatchRate *rate.Limiter
	workCh       chan struct{}
	inflight     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New builds a Queue and starts its dispatch loop. history may be nil.
func New(limiter *ratelimit.Limiter, responseCache *cache.ResponseCache, client provider.Client, history storage.Store, cfg Config) *Queue {
	if cfg.ConcurrentRequests <= 0 {
		cfg.ConcurrentRequests = 1
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		limiter:      limiter,
		cache:        responseCache,
		client:       client,
		history:      history,
		cfg:          cfg,
		sem:          semaphore.NewWeighted(int64(cfg.ConcurrentRequests)),
		dispatchRate: newDispatchRate(cfg.DispatchPerMinute),
		workCh:       make(chan struct{}, 1),
		baseCtx:      baseCtx,
		cancel:       cancel,
	}

	go q.dispatchLoop()

	return q
}

// newDispatchRate builds the scheduler-level throttle: at most
// perMinute dispatches per sliding 60-second interval, independent of
// any per-owner limit. Zero means unthrottled.
func newDispatchRate(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
}

// AddRequest admits, schedules and executes req, blocking until a
// terminal outcome. Admission failures return *ratelimit.LimitExceededError;
// execution failures return the final provider error unchanged.
func (q *Queue) AddRequest(ctx context.Context, req *types.Request) (*types.Response, error) {
	if err := normalize(req); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.mu.Unlock()

	if err := q.limiter.Reserve(ctx, req.OwnerID); err != nil {
		return nil, err
	}

	fingerprint := cache.Fingerprint(req.Kind, req.Prompt, req.Context)
	if cached := q.cache.Get(ctx, fingerprint); cached != nil {
		q.mu.Lock()
		q.stats.Completed++
		q.stats.TotalProcessed++
		q.mu.Unlock()

		log.Printf("[%s] served from cache", req.ID)
		return cached, nil
	}

	item := &pendingItem{
		req:         req,
		fingerprint: fingerprint,
		enqueuedAt:  time.Now(),
		done:        make(chan outcome, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.seq++
	item.seq = q.seq
	heap.Push(&q.pending, item)
	q.stats.Pending++
	q.inflight.Add(1)
	q.mu.Unlock()

	q.signal()

	select {
	case out := <-item.done:
		return out.resp, out.err
	case <-ctx.Done():
		// The item keeps executing; its result is discarded.
		return nil, ctx.Err()
	}
}

func normalize(req *types.Request) error {
	if req.OwnerID == "" {
		return errors.New("owner id is required")
	}
	if req.Prompt == "" {
		return errors.New("prompt is required")
	}
	if req.ID == "" {
		req.ID = "req_" + uuid.New().String()
	}
	if req.Kind == "" {
		req.Kind = types.KindContentGeneration
	}
	if req.Priority == "" {
		req.Priority = types.PriorityNormal
	}
	if !req.Priority.Valid() {
		return fmt.Errorf("unknown priority: %s", req.Priority)
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	return nil
}

func (q *Queue) signal() {
	select {
	case q.workCh <- struct{}{}:
	default:
	}
}

func (q *Queue) dispatchLoop() {
	for {
		select {
		case <-q.baseCtx.Done():
			return
		case <-q.workCh:
		}

		for q.hasPending() {
			if err := q.sem.Acquire(q.baseCtx, 1); err != nil {
				return
			}
			if err := q.dispatchRate.Wait(q.baseCtx); err != nil {
				q.sem.Release(1)
				return
			}

			item := q.popPending()
			if item == nil {
				q.sem.Release(1)
				break
			}

			go q.execute(item)
		}
	}
}

func (q *Queue) hasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len() > 0
}

// popPending removes the highest-priority waiting item and moves the
// stats from pending to processing.
func (q *Queue) popPending() *pendingItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending.Len() == 0 {
		return nil
	}

	item := heap.Pop(&q.pending).(*pendingItem)
	q.stats.Pending--
	q.stats.Processing++
	return item
}

func (q *Queue) execute(item *pendingItem) {
	defer q.sem.Release(1)

	req := item.req
	policy := retry.Policy{
		Attempts:  q.cfg.RetryAttempts,
		MinDelay:  q.cfg.RetryMinDelay,
		MaxDelay:  q.cfg.RetryMaxDelay,
		Retryable: provider.IsRetryable,
	}

	var resp *types.Response
	err := policy.Do(q.baseCtx, req.ID, func(ctx context.Context, attempt int) error {
		item.attempts = attempt

		callCtx := ctx
		if q.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, q.cfg.AttemptTimeout)
			defer cancel()
		}

		r, callErr := q.client.GenerateCompletion(callCtx, req)
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})

	if err == nil {
		q.cache.Put(q.baseCtx, item.fingerprint, resp)
	}

	q.finish(item, resp, err)
}

// finish applies the terminal stats transition, records history and
// releases the waiting caller.
func (q *Queue) finish(item *pendingItem, resp *types.Response, err error) {
	q.mu.Lock()
	q.stats.Processing--
	if err != nil {
		q.stats.Failed++
	} else {
		q.stats.Completed++
	}
	q.stats.TotalProcessed++
	q.mu.Unlock()

	if err != nil {
		log.Printf("[%s] failed after %d attempt(s): %v", item.req.ID, item.attempts, err)
	} else {
		log.Printf("[%s] completed via %s in %dms", item.req.ID, resp.Provider, resp.ProcessingTime)
	}

	q.record(item, resp, err)

	item.done <- outcome{resp: resp, err: err}
	q.inflight.Done()
}

func (q *Queue) record(item *pendingItem, resp *types.Response, err error) {
	if q.history == nil {
		return
	}

	now := time.Now()
	rec := &storage.RequestRecord{
		ID:          item.req.ID,
		OwnerID:     item.req.OwnerID,
		Kind:        item.req.Kind,
		Priority:    item.req.Priority,
		Status:      types.RecordCompleted,
		SubmittedAt: item.req.SubmittedAt,
		CompletedAt: now,
		DurationMs:  now.Sub(item.req.SubmittedAt).Milliseconds(),
		Attempts:    item.attempts,
	}

	if err != nil {
		rec.Status = types.RecordFailed
		msg := err.Error()
		rec.Error = &msg
	} else {
		rec.Provider = resp.Provider
		rec.Model = resp.Model
		rec.InputTokens = resp.Usage.InputTokens
		rec.OutputTokens = resp.Usage.OutputTokens
		rec.TotalTokens = resp.Usage.TotalTokens
		rec.Cached = resp.Cached
	}

	if recErr := q.history.CreateRecord(q.baseCtx, rec); recErr != nil {
		log.Printf("[%s] history write failed: %v", item.req.ID, recErr)
	}
}

// GetQueueStatus returns a snapshot of the aggregate counters.
func (q *Queue) GetQueueStatus() types.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// GetRateLimitStatus reports throttling state for one owner without
// reserving capacity.
func (q *Queue) GetRateLimitStatus(ctx context.Context, ownerID string) types.RateLimitStatus {
	return q.limiter.Status(ctx, ownerID)
}

// Providers lists the provider ids reachable through the facade.
func (q *Queue) Providers() []string {
	return q.client.AvailableProviders()
}

// ProviderHealth reports the facade's per-provider health view.
func (q *Queue) ProviderHealth() map[string]types.ProviderHealth {
	return q.client.HealthStatus()
}

// ClearQueue drops all waiting requests (their callers receive
// ErrQueueCleared) and resets the terminal counters. In-flight work
// is not cancelled and keeps its processing count.
func (q *Queue) ClearQueue() {
	q.mu.Lock()
	dropped := make([]*pendingItem, 0, q.pending.Len())
	for q.pending.Len() > 0 {
		dropped = append(dropped, heap.Pop(&q.pending).(*pendingItem))
	}
	q.stats.Pending = 0
	q.stats.Completed = 0
	q.stats.Failed = 0
	q.stats.TotalProcessed = 0
	q.mu.Unlock()

	for _, item := range dropped {
		item.done <- outcome{err: ErrQueueCleared}
		q.inflight.Done()
	}

	if len(dropped) > 0 {
		log.Printf("queue cleared, dropped %d pending request(s)", len(dropped))
	}
}

// Shutdown stops admissions, drains pending and processing work to
// completion, then stops the dispatcher. Returns ctx.Err() if the
// drain does not finish in time.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}
