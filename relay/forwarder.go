package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vocdoni/anonsignal/ledger"
	"github.com/vocdoni/anonsignal/storage"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
)

// Start launches the forwarder and the confirmation monitor. Jobs reserved by
// a previous run are released first so they are forwarded again.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("relay already running")
	}
	// a job held by a run that crashed may not have its nullifier consumed
	jobs, err := r.stg.ForwardJobs()
	if err != nil {
		return fmt.Errorf("failed to list forward jobs: %w", err)
	}
	for _, job := range jobs {
		if err := r.nullifiers.Consume(ctx, job.NullifierHash.MathBigInt()); err != nil &&
			!errors.Is(err, types.ErrNullifierAlreadyUsed) {
			return fmt.Errorf("failed to consume nullifier of queued job %s: %w", job.ID, err)
		}
	}
	recovered, err := r.stg.RecoverForwardJobs()
	if err != nil {
		return fmt.Errorf("failed to recover forward jobs: %w", err)
	}
	if recovered > 0 {
		log.Infow("recovered forward jobs", "count", recovered)
	}
	r.metrics.QueueDepth.Set(float64(r.stg.PendingForwardJobs()))

	r.ctx, r.cancel = context.WithCancel(ctx)
	events, err := r.ledger.Confirmations(r.ctx)
	if err != nil {
		r.cancel()
		r.cancel = nil
		return fmt.Errorf("failed to subscribe to ledger confirmations: %w", err)
	}
	r.wg.Add(2)
	go r.runConfirmationMonitor(events)
	go r.runForwarder()
	log.Infow("relay started")
	return nil
}

// Stop cancels the background routines and waits for them.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	log.Infow("relay stopped")
}

// runForwarder pulls jobs from the queue and forwards them one at a time, so
// retries of a job are never reordered.
func (r *Relay) runForwarder() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.QueueInterval)
	defer ticker.Stop()
	log.Infow("forwarder started")

	for {
		select {
		case <-r.ctx.Done():
			log.Infow("forwarder stopped")
			return
		default:
		}

		job, key, err := r.stg.NextForwardJob()
		if err != nil {
			if !errors.Is(err, storage.ErrNoMoreElements) {
				log.Errorw(err, "failed to get next forward job")
			}
			select {
			case <-ticker.C:
			case <-r.wake:
			case <-r.ctx.Done():
				log.Infow("forwarder stopped")
				return
			}
			continue
		}

		if done := r.forward(job, key); !done {
			// wait before the next pass over the same job
			select {
			case <-ticker.C:
			case <-r.ctx.Done():
				log.Infow("forwarder stopped")
				return
			}
		}
	}
}

// forward delivers a job to the ledger, retrying while it is unavailable.
// It returns false when the job was released for a later pass.
func (r *Relay) forward(job *storage.ForwardJob, key []byte) bool {
	greeting := &ledger.Greeting{
		Root:              job.Root,
		NullifierHash:     job.NullifierHash,
		ExternalNullifier: job.ExternalNullifier,
		Proof:             job.Proof,
	}
	copy(greeting.Signal[:], job.Signal)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.Retry.InitialInterval
	policy.MaxInterval = r.cfg.Retry.MaxInterval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.cfg.Retry.MaxAttempts-1)), r.ctx)

	var (
		txRef    string
		recorded bool
	)
	startTime := time.Now()
	err := backoff.RetryNotify(func() error {
		job.Attempts++
		ref, err := r.ledger.Greet(r.ctx, greeting)
		if err != nil {
			r.metrics.ForwardAttempts.WithLabelValues(types.KindOf(err).String()).Inc()
			if errors.Is(err, types.ErrLedgerUnavailable) {
				return err
			}
			// the relay queues one job per nullifier, so on a retry the
			// nullifier was spent by an earlier attempt of this same job
			// whose answer got lost
			if job.Attempts > 1 && errors.Is(err, types.ErrNullifierAlreadyUsed) {
				recorded = true
				return nil
			}
			return backoff.Permanent(err)
		}
		r.metrics.ForwardAttempts.WithLabelValues("ok").Inc()
		txRef = ref
		return nil
	}, b, func(err error, next time.Duration) {
		log.Debugw("ledger unavailable, retrying", "id", job.ID, "attempt", job.Attempts, "next", next.String())
	})

	switch {
	case err == nil && recorded:
		// the confirmation event carries the reference, the future is
		// matched by content
		r.metrics.ForwardDuration.WithLabelValues("ok").Observe(time.Since(startTime).Seconds())
		if err := r.stg.MarkForwardJobDone(key, &storage.ForwardReceipt{ID: job.ID}); err != nil {
			log.Errorw(err, "failed to mark forward job as done")
		}
		r.metrics.QueueDepth.Dec()
		log.Infow("message already recorded by an earlier attempt", "id", job.ID, "attempts", job.Attempts)
		return true

	case err == nil:
		r.metrics.ForwardDuration.WithLabelValues("ok").Observe(time.Since(startTime).Seconds())
		r.correlator.Forwarded(job.ID, txRef)
		if err := r.stg.MarkForwardJobDone(key, &storage.ForwardReceipt{ID: job.ID, TxRef: txRef}); err != nil {
			log.Errorw(err, "failed to mark forward job as done")
		}
		r.metrics.QueueDepth.Dec()
		log.Debugw("message forwarded", "id", job.ID, "txRef", txRef, "attempts", job.Attempts)
		return true

	case errors.Is(err, types.ErrLedgerUnavailable) || r.ctx.Err() != nil:
		r.metrics.ForwardDuration.WithLabelValues("retry").Observe(time.Since(startTime).Seconds())
		if r.ctx.Err() == nil {
			r.correlator.Fail(job.ID, err)
			log.Warnw("ledger unavailable, message kept for a later pass",
				"id", job.ID, "attempts", job.Attempts, "error", err.Error())
		}
		if err := r.stg.ReleaseForwardJob(key, job); err != nil {
			log.Errorw(err, "failed to release forward job")
		}
		return false

	default:
		// rejected by the ledger, retrying would not help
		r.metrics.ForwardDuration.WithLabelValues("rejected").Observe(time.Since(startTime).Seconds())
		r.correlator.Fail(job.ID, err)
		if err := r.stg.MarkForwardJobDone(key, &storage.ForwardReceipt{ID: job.ID, Error: err.Error()}); err != nil {
			log.Errorw(err, "failed to mark forward job as done")
		}
		r.metrics.QueueDepth.Dec()
		log.Warnw("message rejected by the ledger", "id", job.ID, "error", err.Error())
		return true
	}
}

// runConfirmationMonitor correlates ledger confirmations. If the ledger
// closes the subscription while the relay runs, it subscribes again.
func (r *Relay) runConfirmationMonitor(events <-chan *ledger.ConfirmationEvent) {
	defer r.wg.Done()
	for {
		for ev := range events {
			match := r.correlator.Confirm(ev)
			r.metrics.Confirmations.WithLabelValues(string(match)).Inc()
			log.Debugw("ledger confirmation", "txRef", ev.TxRef, "match", string(match))
		}
		if r.ctx.Err() != nil {
			return
		}
		log.Warnw("ledger confirmations closed, subscribing again")
		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = 0
		err := backoff.Retry(func() error {
			var err error
			events, err = r.ledger.Confirmations(r.ctx)
			return err
		}, backoff.WithContext(policy, r.ctx))
		if err != nil {
			return
		}
	}
}
