package prover

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/zklinkprotocol/recover-state-server/state"
	"github.com/zklinkprotocol/recover-state-server/storage"
)

// pollInterval is how long a worker sleeps after finding no unclaimed task
// before polling again (spec §4.6 step 2).
const pollInterval = 5 * time.Second

// StateSnapshot returns the state to build a witness against. The pool
// only ever reads it, so the replay driver is free to keep mutating its
// own live State concurrently; implementations should return a
// consistent point-in-time view (a snapshot refreshed on each commit, or
// the live value when strict consistency isn't required).
type StateSnapshot func() *state.State

// Pool is the Exit Prover Pool (spec §4.6): a fixed number of workers
// that repeatedly claim, enrich, prove and persist exit-proof tasks
// against a shared, read-only ProvingCache.
type Pool struct {
	store   *storage.Store
	cache   *ProvingCache
	snap    StateSnapshot
	log     *zap.Logger
	workers int
}

// ResolveWorkerCount implements the original's sizing rule: an explicit
// --workers_num caps out at the number of CPU cores, otherwise it
// defaults to cores/16 (original_source/prover/src/lib.rs,
// run_exodus_prover).
func ResolveWorkerCount(requested int) int {
	cores := runtime.NumCPU()
	if requested <= 0 {
		n := cores / 16
		if n < 1 {
			n = 1
		}
		return n
	}
	if requested > cores {
		return cores
	}
	return requested
}

// NewPool builds a pool of the given worker count against store and
// cache, reading witness state from snap.
func NewPool(store *storage.Store, cache *ProvingCache, snap StateSnapshot, log *zap.Logger, workers int) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Pool{store: store, cache: cache, snap: snap, log: log, workers: workers}
}

// Run resets any tasks left in-flight by a prior crashed run, then starts
// the worker pool and blocks until ctx is cancelled (spec §4.6: "At
// startup the pool resets any row left in-flight from a prior crash").
func (p *Pool) Run(ctx context.Context) error {
	reset, err := p.store.ResetInFlight(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		p.log.Warn("reset in-flight exit-proof tasks from a prior run", zap.Int64("count", reset))
	}

	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

// runWorker is one worker's claim/build/prove/persist loop, mirroring
// original_source/prover/src/lib.rs's per-task state machine and
// exodus_prover.rs's load_new_task/check_exit_info/create_exit_proof/
// store_exit_proof/cancel_this_task sequence.
func (p *Pool) runWorker(ctx context.Context, id int) {
	workerLog := p.log.With(zap.Int("worker", id))
	workerLog.Info("starting exit-proof worker")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok, err := p.store.ClaimTask(ctx)
		if err != nil {
			workerLog.Warn("failed to claim exit-proof task", zap.Error(err))
			if !sleepOrDone(ctx, pollInterval) {
				return
			}
			continue
		}
		if !ok {
			if !sleepOrDone(ctx, pollInterval) {
				return
			}
			continue
		}

		p.processTask(ctx, workerLog, task)
	}
}

// processTask enriches the claimed task with the account's recovered
// address, generates a proof against the current state snapshot, and
// persists the outcome (success or cancel) through an exponential
// backoff, so a transient DB hiccup doesn't strand an already-computed
// proof or a task stuck in-flight (original_source/prover/src/retries.rs:
// initial 5s, multiplier 1.5, cap 30s, give up after 2 minutes).
func (p *Pool) processTask(ctx context.Context, log *zap.Logger, task storage.ExitProofTask) {
	addr, err := p.store.AccountAddress(ctx, task.AccountID)
	if err != nil {
		log.Error("failed to resolve account address for claimed task", zap.Error(err))
		p.persistCancel(ctx, log, task)
		return
	}

	req := ExitRequest{
		ChainID:       task.ChainID,
		AccountID:     task.AccountID,
		SubAccountID:  task.SubAccountID,
		L1TargetToken: task.L1TargetToken,
		L2SourceToken: task.L2SourceToken,
		AccountAddr:   addr,
	}

	proof, amount, err := GenerateProof(p.cache, p.snap(), req)
	if err != nil {
		log.Error("failed to compute exit proof", zap.Error(err))
		p.persistCancel(ctx, log, task)
		return
	}

	op := func() error {
		return p.store.PersistProofResult(ctx, task, proof, amount)
	}
	if err := backoff.Retry(op, retryPolicy()); err != nil {
		log.Error("failed to persist exit proof after retries", zap.Error(err))
		return
	}
	log.Info("stored exit proof",
		zap.Uint8("chain_id", uint8(task.ChainID)),
		zap.Uint32("account_id", uint32(task.AccountID)))
}

// persistCancel clears the claimed row so another worker can retry it,
// itself wrapped in the same retry policy as a successful persist (spec
// §4.6 step 5: "Ensure that the tasks being run have a result").
func (p *Pool) persistCancel(ctx context.Context, log *zap.Logger, task storage.ExitProofTask) {
	op := func() error {
		return p.store.CancelTask(ctx, task)
	}
	if err := backoff.Retry(op, retryPolicy()); err != nil {
		log.Error("failed to cancel exit-proof task after retries", zap.Error(err))
	}
}

// retryPolicy reproduces original_source/prover/src/retries.rs's
// with_retries exactly: start at 5s, back off by 1.5x, cap at 30s, give
// up once 2 minutes have elapsed.
func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.Multiplier = 1.5
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	b.RandomizationFactor = 0
	return b
}

// sleepOrDone waits for d or ctx cancellation, reporting which happened
// first so callers can exit their loop promptly on shutdown.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
