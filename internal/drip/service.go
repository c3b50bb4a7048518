package drip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reddit-lead-generator/internal/models"
	"reddit-lead-generator/internal/telemetry"
)

// ErrPersistence wraps a failed bulk write of a scheduled batch.
var ErrPersistence = errors.New("persist scheduled leads")

// Store is what the drip service needs from persistence.
type Store interface {
	ExternalIDLookup
	// InsertLeads writes the whole batch in one atomic operation and returns
	// the ids of the rows actually inserted. Rows lost to a concurrent writer
	// of the same external id are not among them.
	InsertLeads(ctx context.Context, leads []models.Lead) ([]string, error)
}

// Result describes one scheduled batch.
type Result struct {
	Leads      []models.Lead
	Inserted   int
	Invalid    int
	Duplicates int
}

// Service filters, schedules and persists lead batches for one owner at a time.
type Service struct {
	store Store
	rand  RandSource
	now   func() time.Time
}

// NewService builds a Service. A nil rand uses DefaultRand and a nil clock
// uses time.Now.
func NewService(store Store, rnd RandSource, now func() time.Time) *Service {
	if rnd == nil {
		rnd = DefaultRand
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, rand: rnd, now: now}
}

// Filter exposes the duplicate filter against the service's store so callers
// can prune candidates before spending work on them.
func (s *Service) Filter(ctx context.Context, ownerID string, candidates []models.Candidate) ([]models.Candidate, FilterStats, error) {
	return Filter(ctx, s.store, ownerID, candidates)
}

// Enqueue drops invalid and already-seen candidates, assigns release times
// and writes the batch in a single call. An empty surviving batch is not an
// error and performs no write.
func (s *Service) Enqueue(ctx context.Context, ownerID, productID string, candidates []models.Candidate, opts Options) (Result, error) {
	fresh, stats, err := Filter(ctx, s.store, ownerID, candidates)
	if err != nil {
		return Result{}, err
	}
	res := Result{Invalid: stats.Invalid, Duplicates: stats.Duplicates}
	telemetry.CandidatesDropped.WithLabelValues("invalid").Add(float64(stats.Invalid))
	telemetry.CandidatesDropped.WithLabelValues("duplicate").Add(float64(stats.Duplicates))
	if len(fresh) == 0 {
		return res, nil
	}

	now := s.now().UTC()
	times := Schedule(now, len(fresh), opts, s.rand)
	leads := make([]models.Lead, len(fresh))
	for i, c := range fresh {
		leads[i] = models.Lead{
			ID:         uuid.New().String(),
			OwnerID:    ownerID,
			ProductID:  productID,
			ExternalID: c.ExternalID,
			Content:    c.Content,
			Read:       false,
			ReleaseAt:  times[i],
			CreatedAt:  now,
		}
	}

	ids, err := s.store.InsertLeads(ctx, leads)
	if err != nil {
		return res, fmt.Errorf("%w: owner=%s: %w", ErrPersistence, ownerID, err)
	}
	res.Leads = keepInserted(leads, ids)
	res.Inserted = len(res.Leads)
	if lost := len(leads) - res.Inserted; lost > 0 {
		res.Duplicates += lost
		telemetry.CandidatesDropped.WithLabelValues("duplicate").Add(float64(lost))
	}
	telemetry.LeadsScheduled.Add(float64(res.Inserted))
	telemetry.BatchSize.Observe(float64(len(leads)))
	return res, nil
}

// keepInserted returns the leads whose id is in ids, in batch order.
func keepInserted(leads []models.Lead, ids []string) []models.Lead {
	if len(ids) == len(leads) {
		return leads
	}
	written := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		written[id] = struct{}{}
	}
	out := make([]models.Lead, 0, len(ids))
	for _, l := range leads {
		if _, ok := written[l.ID]; ok {
			out = append(out, l)
		}
	}
	return out
}
