package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jackzampolin/paperbatch/internal/item"
)

// ItemProcessor runs one item to a terminal outcome.
type ItemProcessor interface {
	Process(ctx context.Context, it *item.WorkItem) item.Outcome
}

// pool is a fixed set of workers pulling from one shared, unbuffered queue.
// A send on the queue only succeeds once a worker is free, so the dispatcher
// never runs ahead of the concurrency bound.
type pool struct {
	logger  *slog.Logger
	workers int
	proc    ItemProcessor

	queue   chan *item.WorkItem
	results chan item.Outcome
	wg      sync.WaitGroup

	inFlight atomic.Int32
	peak     atomic.Int32
}

func newPool(workers int, proc ItemProcessor, logger *slog.Logger) *pool {
	if workers <= 0 {
		workers = 1
	}
	return &pool{
		logger:  logger.With("workers", workers),
		workers: workers,
		proc:    proc,
		queue:   make(chan *item.WorkItem),
		results: make(chan item.Outcome, workers),
	}
}

// start launches the workers. They exit once the queue is closed and drained.
func (p *pool) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

func (p *pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for it := range p.queue {
		n := p.inFlight.Add(1)
		for {
			peak := p.peak.Load()
			if n <= peak || p.peak.CompareAndSwap(peak, n) {
				break
			}
		}

		p.logger.Debug("worker received item", "worker_id", id, "item", it.ID())
		out := p.proc.Process(ctx, it)
		p.inFlight.Add(-1)
		p.results <- out
	}
}

// submit hands an item to the next free worker. It returns false without
// dispatching when stop is closed first.
func (p *pool) submit(stop <-chan struct{}, it *item.WorkItem) bool {
	select {
	case <-stop:
		return false
	default:
	}
	select {
	case p.queue <- it:
		return true
	case <-stop:
		return false
	}
}

// close stops accepting work.
func (p *pool) close() {
	close(p.queue)
}

// InFlight returns the number of items being processed.
func (p *pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Peak returns the highest concurrency observed.
func (p *pool) Peak() int {
	return int(p.peak.Load())
}
