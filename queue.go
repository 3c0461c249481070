package ocrsched

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Request lifecycle states. Exactly one terminal transition happens per
// request, guarded by an atomic CAS from statePending.
const (
	statePending int32 = iota
	stateRunning
	stateTimedOut
	stateCancelled
	stateCleared
)

// deniedPollInterval bounds how long a worker sleeps when the gate denies
// without a usable retry-after (quota exhaustion waits for a window reset).
const deniedPollInterval = 500 * time.Millisecond

type outcome struct {
	result OCRResult
	err    error
}

type queuedRequest struct {
	id       string
	provider ProviderID
	priority int
	seq      uint64
	enqueued time.Time
	deadline time.Time
	work     func(ctx context.Context) (OCRResult, error)

	state atomic.Int32
	done  chan outcome // buffered; at most one send
}

// claim transitions the request out of statePending. Only the winner of the
// transition may deliver on done.
func (r *queuedRequest) claim(to int32) bool {
	return r.state.CompareAndSwap(statePending, to)
}

// PriorityRequestQueue holds pending extraction requests, one logical queue
// per provider. Ordering is by priority descending with FIFO tie-break, so a
// stream of same-priority arrivals cannot starve earlier work. A single
// worker goroutine drains each provider's queue; the worker consults the
// RateLimitGate before running the head and, when denied, leaves the item in
// place and waits out the retry-after.
type PriorityRequestQueue struct {
	mu     sync.Mutex
	queues map[ProviderID]*providerQueue
	gate   *RateLimitGate
	logger *slog.Logger
	seq    uint64
	stop   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

type providerQueue struct {
	heap requestHeap
	wake chan struct{}
}

// NewPriorityRequestQueue creates a queue that admits work through gate.
func NewPriorityRequestQueue(gate *RateLimitGate, logger *slog.Logger) *PriorityRequestQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriorityRequestQueue{
		queues: make(map[ProviderID]*providerQueue),
		gate:   gate,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Enqueue queues work for the provider and blocks until the request reaches
// a terminal state: completed, timed out, cancelled via ctx, or cleared.
// The timeout is tracked independently of queue position; a request stuck
// behind long-running work still times out on schedule.
func (q *PriorityRequestQueue) Enqueue(
	ctx context.Context,
	provider ProviderID,
	priority int,
	timeout time.Duration,
	work func(ctx context.Context) (OCRResult, error),
) (OCRResult, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	now := time.Now()
	req := &queuedRequest{
		id:       uuid.New().String(),
		provider: provider,
		priority: priority,
		seq:      q.nextSeq(),
		enqueued: now,
		deadline: now.Add(timeout),
		work:     work,
		done:     make(chan outcome, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return OCRResult{}, ErrClosed
	}
	pq := q.queues[provider]
	if pq == nil {
		pq = &providerQueue{wake: make(chan struct{}, 1)}
		q.queues[provider] = pq
		q.wg.Add(1)
		go q.drain(provider, pq)
	}
	heap.Push(&pq.heap, req)
	q.sweepLocked(pq)
	q.mu.Unlock()

	signal(pq.wake)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-req.done:
		return out.result, out.err
	case <-timer.C:
		// Whether or not we win the claim, the caller stops waiting now. A
		// worker that already claimed the request runs under the same
		// deadline and will abandon shortly.
		req.claim(stateTimedOut)
		return OCRResult{}, &SchedulerError{Err: ErrTimeout, Provider: provider, Attempts: 1}
	case <-ctx.Done():
		req.claim(stateCancelled)
		return OCRResult{}, ctx.Err()
	}
}

// Clear rejects and removes every pending request for the provider,
// returning the count cleared. In-flight work is not interrupted.
func (q *PriorityRequestQueue) Clear(provider ProviderID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	pq := q.queues[provider]
	if pq == nil {
		return 0
	}

	cleared := 0
	for _, req := range pq.heap {
		if req.claim(stateCleared) {
			req.done <- outcome{err: ErrQueueCleared}
			cleared++
		}
	}
	pq.heap = pq.heap[:0]
	return cleared
}

// Pending reports the number of queued (not yet claimed) requests for the
// provider.
func (q *PriorityRequestQueue) Pending(provider ProviderID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	pq := q.queues[provider]
	if pq == nil {
		return 0
	}
	n := 0
	for _, req := range pq.heap {
		if req.state.Load() == statePending {
			n++
		}
	}
	return n
}

// Close clears all queues and stops the workers.
func (q *PriorityRequestQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	providers := make([]ProviderID, 0, len(q.queues))
	for id := range q.queues {
		providers = append(providers, id)
	}
	q.mu.Unlock()

	for _, id := range providers {
		q.Clear(id)
	}
	close(q.stop)
	q.wg.Wait()
}

func (q *PriorityRequestQueue) nextSeq() uint64 {
	return atomic.AddUint64(&q.seq, 1)
}

// drain is the single worker loop for one provider's queue.
func (q *PriorityRequestQueue) drain(provider ProviderID, pq *providerQueue) {
	defer q.wg.Done()

	for {
		req, wait := q.next(pq, provider)
		if req == nil {
			select {
			case <-pq.wake:
			case <-time.After(wait):
			case <-q.stop:
				return
			}
			continue
		}

		q.run(req)
	}
}

// next returns the head request once the gate admits it, or nil with a wait
// hint when the queue is empty or the gate denied.
func (q *PriorityRequestQueue) next(pq *providerQueue, provider ProviderID) (*queuedRequest, time.Duration) {
	q.mu.Lock()
	q.sweepLocked(pq)
	if len(pq.heap) == 0 {
		q.mu.Unlock()
		return nil, time.Hour
	}
	q.mu.Unlock()

	status := q.gate.Admit(provider)
	if !status.Allowed {
		// The head keeps its position; the worker backs off instead of
		// rotating the queue, preserving ordering under contention.
		wait := status.RetryAfter
		if wait <= 0 {
			wait = deniedPollInterval
		}
		return nil, wait
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	// Re-pop under lock: the head may have timed out or been cleared while
	// the gate was consulted.
	for len(pq.heap) > 0 {
		req := heap.Pop(&pq.heap).(*queuedRequest)
		if req.claim(stateRunning) {
			return req, 0
		}
	}
	return nil, 0
}

func (q *PriorityRequestQueue) run(req *queuedRequest) {
	ctx, cancel := context.WithDeadline(context.Background(), req.deadline)
	defer cancel()

	result, err := req.work(ctx)
	select {
	case req.done <- outcome{result: result, err: err}:
	default:
		// Caller already gave up (timeout fired after claim); drop.
		q.logger.Debug("dropping result for abandoned request",
			"request_id", req.id, "provider", req.provider)
	}
}

// sweepLocked rejects queued requests that are past their deadline. Runs on
// every enqueue and dequeue rather than on a timer; the waiting caller's own
// timer is the authoritative backstop.
func (q *PriorityRequestQueue) sweepLocked(pq *providerQueue) {
	now := time.Now()
	kept := pq.heap[:0]
	for _, req := range pq.heap {
		if req.state.Load() == statePending && now.After(req.deadline) {
			if req.claim(stateTimedOut) {
				req.done <- outcome{err: &SchedulerError{Err: ErrTimeout, Provider: req.provider, Attempts: 1}}
			}
			continue
		}
		if req.state.Load() != statePending {
			continue
		}
		kept = append(kept, req)
	}
	pq.heap = kept
	heap.Init(&pq.heap)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// requestHeap orders by priority descending, then enqueue sequence ascending.
type requestHeap []*queuedRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*queuedRequest)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
