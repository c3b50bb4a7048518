package worker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"reddit-lead-generator/internal/config"
	"reddit-lead-generator/internal/generation"
	"reddit-lead-generator/internal/models"
	"reddit-lead-generator/internal/queue"
	"reddit-lead-generator/internal/telemetry"
)

// Eligible targets are re-read from Postgres at most this often.
const seedInterval = time.Minute

// Generator runs one lead generation.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (generation.Result, error)
}

// TargetSource lists owner/product pairs that should be swept.
type TargetSource interface {
	ListSweepTargets(ctx context.Context) ([]models.SweepTarget, error)
}

// Processor drives the periodic sweep: it keeps the Redis schedule in sync
// with eligible targets and generates leads for each target when it is due.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	targets  TargetSource
	gen      Generator
	workerID string
	log      *slog.Logger
	now      func() time.Time

	eligible map[string]struct{}
	lastSeed time.Time
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, targets TargetSource, gen Generator) *Processor {
	return NewProcessorWithID(cfg, q, targets, gen, "")
}

// NewProcessorWithID creates a processor with a specific worker ID for tracking.
func NewProcessorWithID(cfg config.Config, q *queue.RedisQueue, targets TargetSource, gen Generator, workerID string) *Processor {
	if cfg.WorkerPollInterval <= 0 {
		cfg.WorkerPollInterval = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 6 * time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	return &Processor{
		cfg:      cfg,
		queue:    q,
		targets:  targets,
		gen:      gen,
		workerID: workerID,
		log:      slog.Default().With("worker_id", workerID),
		now:      time.Now,
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.Tick(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.WorkerPollInterval):
		}
	}
}

// Tick performs one pass of the loop and reports whether a target was processed.
func (p *Processor) Tick(ctx context.Context) bool {
	now := p.now()
	if p.eligible == nil || now.Sub(p.lastSeed) >= seedInterval {
		p.seed(ctx, now)
	}
	if p.eligible == nil {
		// without a target list every leased target would look stale
		return false
	}

	if _, err := p.queue.PromoteDue(ctx, now, int64(p.cfg.SweepBatchSize)); err != nil {
		p.log.Warn("promote due targets", "error", err)
	}
	if reclaimed, err := p.queue.RequeueExpired(ctx, now, 100); err != nil {
		p.log.Warn("requeue expired leases", "error", err)
	} else if len(reclaimed) > 0 {
		p.log.Warn("reclaimed expired leases", "targets", reclaimed)
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.SweepQueueDepth.Set(float64(depth))
	}

	key, err := p.queue.DequeueWithLease(ctx, now)
	if err != nil {
		p.log.Warn("dequeue", "error", err)
		return false
	}
	if key == "" {
		return false
	}
	p.process(ctx, key)
	return true
}

func (p *Processor) seed(ctx context.Context, now time.Time) {
	targets, err := p.targets.ListSweepTargets(ctx)
	if err != nil {
		p.log.Error("list sweep targets", "error", err)
		return
	}
	eligible := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		eligible[t.Key()] = struct{}{}
	}
	// New targets just had their onboarding run, so the first sweep waits a full interval.
	added, err := p.queue.Seed(ctx, targets, now.Add(p.cfg.SweepInterval))
	if err != nil {
		p.log.Error("seed sweep schedule", "error", err)
		return
	}
	if added > 0 {
		p.log.Info("sweep targets added", "count", added)
	}
	p.eligible = eligible
	p.lastSeed = now
}

func (p *Processor) process(ctx context.Context, key string) {
	log := p.log.With("target", key)
	target, _, err := p.queue.Target(ctx, key)
	if errors.Is(err, queue.ErrUnknownTarget) {
		_ = p.queue.Remove(ctx, key)
		return
	}
	if err != nil {
		// lease expires and the target is reclaimed
		log.Error("read target", "error", err)
		return
	}
	if _, ok := p.eligible[key]; !ok {
		log.Info("dropping target without active subscription")
		_ = p.queue.Remove(ctx, key)
		return
	}

	telemetry.SweepInFlight.Inc()
	defer telemetry.SweepInFlight.Dec()
	stop := p.keepLease(ctx, key)
	_, err = p.gen.Generate(ctx, generation.Request{
		OwnerID:        target.OwnerID,
		ProductID:      target.ProductID,
		ImmediateCount: p.cfg.SweepImmediateLeads,
		Trigger:        generation.TriggerSweep,
	})
	stop()

	now := p.now()
	next := now.Add(p.cfg.SweepInterval)
	switch {
	case err == nil:
		if aerr := p.queue.Ack(ctx, key, next); aerr != nil {
			log.Error("ack target", "error", aerr)
		}
		return
	case ctx.Err() != nil:
		return
	case errors.Is(err, generation.ErrProductNotFound), errors.Is(err, generation.ErrNoSubreddits):
		log.Info("removing target", "reason", err)
		_ = p.queue.Remove(ctx, key)
		return
	}

	attempts, ierr := p.queue.IncrAttempts(ctx, key)
	if ierr != nil {
		log.Error("record failed attempt", "error", ierr)
	}
	if attempts >= p.cfg.MaxAttempts {
		log.Error("sweep target dead-lettered", "attempts", attempts, "error", err)
		telemetry.SweepDeadLetter.Inc()
		if derr := p.queue.DeadLetter(ctx, key, next); derr != nil {
			log.Error("dead letter target", "error", derr)
		}
		return
	}

	retryAt := now.Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts))
	log.Warn("sweep failed, retry scheduled", "attempts", attempts, "retry_at", retryAt.UTC(), "error", err)
	telemetry.SweepFailures.Inc()
	if rerr := p.queue.Retry(ctx, key, retryAt); rerr != nil {
		log.Error("schedule retry", "error", rerr)
	}
}

// keepLease extends the lease every half visibility timeout until stop is called.
func (p *Processor) keepLease(ctx context.Context, key string) (stop func()) {
	every := p.cfg.VisibilityTimeout / 2
	if every <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.queue.ExtendLease(ctx, key, p.now().Add(p.cfg.VisibilityTimeout)); err != nil {
					p.log.Warn("extend lease", "target", key, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || exp > float64(math.MaxInt64) {
		wait = max
	}
	if wait/2 <= 0 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
