// Package generation runs one lead generation for an owner's product: fetch
// fresh subreddit posts, drop ones the owner has already seen, let the model
// pick and answer the promising ones, then hand them to the drip scheduler.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reddit-lead-generator/internal/artifacts"
	"reddit-lead-generator/internal/drip"
	"reddit-lead-generator/internal/logger"
	"reddit-lead-generator/internal/models"
	"reddit-lead-generator/internal/reddit"
	"reddit-lead-generator/internal/store"
	"reddit-lead-generator/internal/telemetry"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrNoSubreddits    = errors.New("product has no subreddits")
)

// Triggers label where a generation came from.
const (
	TriggerOnboarding = "onboarding"
	TriggerManual     = "manual"
	TriggerSweep      = "sweep"
)

// ProductStore reads the product definition.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (models.Product, error)
	ProductSubreddits(ctx context.Context, productID string) ([]string, error)
}

// PostSource fetches candidate posts.
type PostSource interface {
	FetchAll(ctx context.Context, subreddits []string, onErr func(subreddit string, err error)) ([]reddit.Post, error)
}

// Curator is the model-backed selection and drafting step.
type Curator interface {
	Select(ctx context.Context, product models.Product, posts []reddit.Post) ([]reddit.Post, error)
	Draft(ctx context.Context, product models.Product, posts []reddit.Post) ([]string, error)
}

// Scheduler dedups and drips leads.
type Scheduler interface {
	Filter(ctx context.Context, ownerID string, candidates []models.Candidate) ([]models.Candidate, drip.FilterStats, error)
	Enqueue(ctx context.Context, ownerID, productID string, candidates []models.Candidate, opts drip.Options) (drip.Result, error)
}

// ArtifactWriter records a run.
type ArtifactWriter interface {
	Write(ctx context.Context, run artifacts.Run) (string, error)
}

// UsageCounter records monthly feature usage.
type UsageCounter interface {
	IncrementUsage(ctx context.Context, userID, feature string, period time.Time) (int64, error)
}

// Request asks for one generation. ImmediateCount leads are visible at once;
// the rest are dripped.
type Request struct {
	OwnerID        string
	ProductID      string
	ImmediateCount int
	Trigger        string
}

// Result summarizes a generation.
type Result struct {
	RunID     string        `json:"run_id"`
	Fetched   int           `json:"fetched"`
	Fresh     int           `json:"fresh"`
	Selected  int           `json:"selected"`
	Drafted   int           `json:"drafted"`
	Scheduled int           `json:"scheduled"`
	Leads     []models.Lead `json:"-"`
}

type Service struct {
	products  ProductStore
	posts     PostSource
	curator   Curator
	scheduler Scheduler
	artifacts ArtifactWriter
	usage     UsageCounter
	now       func() time.Time
}

// NewService wires a generation service. artifacts may be nil.
func NewService(products ProductStore, posts PostSource, curator Curator, scheduler Scheduler, artifacts ArtifactWriter) *Service {
	return &Service{
		products:  products,
		posts:     posts,
		curator:   curator,
		scheduler: scheduler,
		artifacts: artifacts,
		now:       time.Now,
	}
}

// WithUsage makes every successful run count against the owner's monthly
// lead generation usage.
func (s *Service) WithUsage(u UsageCounter) *Service {
	s.usage = u
	return s
}

// Generate runs the pipeline for req.
func (s *Service) Generate(ctx context.Context, req Request) (res Result, err error) {
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	res.RunID = uuid.New().String()
	started := s.now().UTC()
	log := logger.FromContext(ctx).With("run_id", res.RunID, "owner_id", req.OwnerID, "product_id", req.ProductID, "trigger", req.Trigger)
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.Scheduled == 0:
			outcome = "empty"
		}
		telemetry.GenerationRuns.WithLabelValues(req.Trigger, outcome).Inc()
	}()

	product, err := s.products.GetProduct(ctx, req.ProductID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && product.OwnerID != req.OwnerID) {
		return res, fmt.Errorf("%w: %s", ErrProductNotFound, req.ProductID)
	}
	if err != nil {
		return res, fmt.Errorf("load product: %w", err)
	}
	subreddits, err := s.products.ProductSubreddits(ctx, product.ID)
	if err != nil {
		return res, fmt.Errorf("load subreddits: %w", err)
	}
	if len(subreddits) == 0 {
		return res, fmt.Errorf("%w: %s", ErrNoSubreddits, product.ID)
	}

	posts, err := s.posts.FetchAll(ctx, subreddits, func(sub string, ferr error) {
		log.Warn("subreddit fetch failed", "subreddit", sub, "error", ferr)
	})
	if err != nil {
		return res, fmt.Errorf("fetch posts: %w", err)
	}
	res.Fetched = len(posts)

	// Drop posts the owner already has before paying for model calls.
	pool := make([]models.Candidate, len(posts))
	for i, p := range posts {
		pool[i] = p.Candidate("")
	}
	fresh, _, err := s.scheduler.Filter(ctx, req.OwnerID, pool)
	if err != nil {
		return res, fmt.Errorf("prefilter posts: %w", err)
	}
	freshIDs := make(map[string]struct{}, len(fresh))
	for _, c := range fresh {
		freshIDs[c.ExternalID] = struct{}{}
	}
	freshPosts := make([]reddit.Post, 0, len(fresh))
	for _, p := range posts {
		if _, ok := freshIDs[p.ExternalID()]; ok {
			freshPosts = append(freshPosts, p)
			delete(freshIDs, p.ExternalID())
		}
	}
	res.Fresh = len(freshPosts)

	run := artifacts.Run{
		RunID:      res.RunID,
		OwnerID:    req.OwnerID,
		ProductID:  product.ID,
		Trigger:    req.Trigger,
		StartedAt:  started,
		Subreddits: subreddits,
		Posts:      posts,
		Comments:   map[string]string{},
	}

	var candidates []models.Candidate
	if len(freshPosts) > 0 {
		selected, err := s.curator.Select(ctx, product, freshPosts)
		if err != nil {
			return res, fmt.Errorf("select posts: %w", err)
		}
		res.Selected = len(selected)

		comments, err := s.curator.Draft(ctx, product, selected)
		if err != nil {
			return res, fmt.Errorf("draft comments: %w", err)
		}
		for i, p := range selected {
			run.SelectedIDs = append(run.SelectedIDs, p.ExternalID())
			if i >= len(comments) || comments[i] == "" {
				continue
			}
			run.Comments[p.ExternalID()] = comments[i]
			candidates = append(candidates, p.Candidate(comments[i]))
		}
		res.Drafted = len(candidates)
	}

	scheduled, err := s.scheduler.Enqueue(ctx, req.OwnerID, product.ID, candidates, drip.Options{ImmediateCount: req.ImmediateCount})
	if err != nil {
		return res, err
	}
	res.Scheduled = scheduled.Inserted
	res.Leads = scheduled.Leads
	run.Scheduled = scheduled.Inserted

	if s.usage != nil {
		if _, uerr := s.usage.IncrementUsage(ctx, req.OwnerID, models.FeatureLeadGeneration, models.UsagePeriod(started)); uerr != nil {
			log.Warn("usage not recorded", "error", uerr)
		}
	}

	if s.artifacts != nil {
		if loc, aerr := s.artifacts.Write(ctx, run); aerr != nil {
			telemetry.ArtifactFailures.Inc()
			log.Warn("run artifact not written", "error", aerr)
		} else if loc != "" {
			log.Debug("run artifact written", "location", loc)
		}
	}

	log.Info("generation finished",
		"fetched", res.Fetched,
		"fresh", res.Fresh,
		"selected", res.Selected,
		"drafted", res.Drafted,
		"scheduled", res.Scheduled,
	)
	return res, nil
}
