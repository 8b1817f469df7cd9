package queue

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
	"github.com/99minutos/identity-system/internal/core/service"
)

const (
	defaultWorkers = 8
	channelBuffer  = 256
)

// ErrStopped is returned by Enqueue once the context passed to Start is done.
var ErrStopped = errors.New("dispatcher stopped")

// Summary counts how the dispatched claims were reconciled.
type Summary struct {
	Created   int
	Updated   int
	Unchanged int
	Failed    int
}

// Total is the number of claims that reached a worker.
func (s Summary) Total() int {
	return s.Created + s.Updated + s.Unchanged + s.Failed
}

func (s *Summary) add(o Summary) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
	s.Failed += o.Failed
}

// Dispatcher reconciles identity claims on a fixed set of workers. Claims are
// sharded by email, so claims for the same identity apply in enqueue order.
type Dispatcher struct {
	workers []chan ports.IdentityClaim
	users   ports.ReconciliationService
	retries int
	log     zerolog.Logger
	done    <-chan struct{}

	wg      sync.WaitGroup
	mu      sync.Mutex
	summary Summary
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used. retries bounds the attempts
// per claim when a concurrent writer wins the version check.
func NewDispatcher(numWorkers, retries int, users ports.ReconciliationService, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan ports.IdentityClaim, numWorkers),
		users:   users,
		retries: retries,
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan ports.IdentityClaim, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled
// or after Close has drained their queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.done = ctx.Done()
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Enqueue sends a claim to the worker responsible for its email. It blocks
// while that worker has channelBuffer claims pending, and fails with
// ErrStopped once the Start context is done. Enqueue must be called after
// Start.
func (d *Dispatcher) Enqueue(claim ports.IdentityClaim) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}
	select {
	case d.workers[d.shardIndex(claim.Email)] <- claim:
		return nil
	case <-d.done:
		return ErrStopped
	}
}

// EnqueueBatch enqueues multiple claims preserving per-identity ordering.
// It stops at the first claim that cannot be enqueued.
func (d *Dispatcher) EnqueueBatch(claims []ports.IdentityClaim) error {
	for _, c := range claims {
		if err := d.Enqueue(c); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting claims, waits for the workers to finish and returns
// the combined summary. Enqueue must not be called after Close.
func (d *Dispatcher) Close() Summary {
	for _, ch := range d.workers {
		close(ch)
	}
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summary
}

// shardIndex maps an email deterministically to a worker index.
func (d *Dispatcher) shardIndex(email string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(email))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan ports.IdentityClaim) {
	defer d.wg.Done()

	var local Summary
	defer func() {
		d.mu.Lock()
		d.summary.add(local)
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case claim, ok := <-ch:
			if !ok {
				return
			}
			outcome, err := d.reconcile(ctx, claim)
			if err != nil {
				local.Failed++
				d.log.Error().Err(err).
					Str("email", claim.Email).
					Str("kind", domain.KindOf(err).String()).
					Int("worker_id", id).
					Msg("claim reconciliation failed")
				continue
			}
			switch outcome {
			case ports.OutcomeCreated:
				local.Created++
			case ports.OutcomeUpdated:
				local.Updated++
			default:
				local.Unchanged++
			}
		}
	}
}

func (d *Dispatcher) reconcile(ctx context.Context, claim ports.IdentityClaim) (ports.ReconcileOutcome, error) {
	var outcome ports.ReconcileOutcome
	err := service.RetryOnConflict(ctx, d.retries, nil, func(ctx context.Context) error {
		res, err := d.users.Reconcile(ctx, claim)
		if err != nil {
			return err
		}
		outcome = res.Outcome
		return nil
	})
	return outcome, err
}
