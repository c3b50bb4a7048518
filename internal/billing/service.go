package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"reddit-lead-generator/internal/config"
	"reddit-lead-generator/internal/models"
	"reddit-lead-generator/internal/store"
	"reddit-lead-generator/internal/telemetry"
)

var (
	// ErrInvalidSignature is returned when a webhook fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnknownSubscription is returned when an event cannot be tied to a user.
	ErrUnknownSubscription = errors.New("unknown subscription")
	// ErrMalformedEvent is returned for payloads that cannot be decoded.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// Webhook outcomes, also used as metric labels.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Store is the persistence the billing service needs.
type Store interface {
	GetSubscription(ctx context.Context, userID string) (models.Subscription, error)
	FindSubscriptionByProviderID(ctx context.Context, provider, providerSubscriptionID string) (models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub models.Subscription) error
	GetPlan(ctx context.Context, planID string) (models.Plan, error)
	RecordBillingEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error)
	ForgetBillingEvent(ctx context.Context, provider, eventID string) error
	ListActivePlans(ctx context.Context) ([]models.Plan, error)
	IncrementUsage(ctx context.Context, userID, feature string, period time.Time) (int64, error)
	UsageForPeriod(ctx context.Context, userID string, period time.Time) (map[string]int64, error)
}

// AccessResult is the answer to a feature access check.
type AccessResult struct {
	HasAccess bool       `json:"has_access"`
	Status    string     `json:"status"`
	PlanID    string     `json:"plan_id,omitempty"`
	TrialEnd  *time.Time `json:"trial_end,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Service keeps user subscriptions in sync with payment provider webhooks.
type Service struct {
	store         Store
	plans         *expirable.LRU[string, models.Plan]
	paddleSecret  string
	paytrKey      string
	paytrSalt     string
	defaultPlanID string
	trialPeriod   time.Duration
	now           func() time.Time
}

func NewService(st Store, cfg config.Config) *Service {
	return &Service{
		store:         st,
		plans:         expirable.NewLRU[string, models.Plan](32, nil, 5*time.Minute),
		paddleSecret:  cfg.PaddleWebhookSecret,
		paytrKey:      cfg.PayTRMerchantKey,
		paytrSalt:     cfg.PayTRMerchantSalt,
		defaultPlanID: cfg.DefaultPlanID,
		trialPeriod:   cfg.TrialPeriod,
		now:           time.Now,
	}
}

// Subscription returns the user's subscription, or a free placeholder when none exists.
func (s *Service) Subscription(ctx context.Context, userID string) (models.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Subscription{UserID: userID, Status: models.SubscriptionFree}, nil
	}
	return sub, err
}

// CheckAccess evaluates whether userID may use feature right now.
func (s *Service) CheckAccess(ctx context.Context, userID, feature string) (AccessResult, error) {
	sub, err := s.Subscription(ctx, userID)
	if err != nil {
		return AccessResult{}, err
	}
	res := AccessResult{Status: sub.Status, PlanID: sub.PlanID, TrialEnd: sub.TrialEnd}
	if sub.PlanID == "" {
		res.Reason = "no plan"
		if sub.Status != models.SubscriptionActive && sub.Status != models.SubscriptionTrialing {
			res.Reason = "subscription " + sub.Status
		}
		return res, nil
	}
	plan, err := s.plan(ctx, sub.PlanID)
	if errors.Is(err, store.ErrNotFound) {
		res.Reason = "unknown plan"
		return res, nil
	}
	if err != nil {
		return AccessResult{}, err
	}
	now := s.now()
	res.HasAccess = Access(sub, plan, feature, now)
	if !res.HasAccess {
		res.Reason = denyReason(sub, plan, feature, now)
	}
	return res, nil
}

// Plans lists the plans open for purchase.
func (s *Service) Plans(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.store.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []models.Plan{}
	}
	return plans, nil
}

// Usage returns userID's per-feature counters for the current month.
func (s *Service) Usage(ctx context.Context, userID string) (map[string]int64, error) {
	return s.store.UsageForPeriod(ctx, userID, models.UsagePeriod(s.now()))
}

// IncrementUsage counts one use of feature in the current month.
func (s *Service) IncrementUsage(ctx context.Context, userID, feature string) (int64, error) {
	return s.store.IncrementUsage(ctx, userID, feature, models.UsagePeriod(s.now()))
}

func (s *Service) plan(ctx context.Context, id string) (models.Plan, error) {
	if p, ok := s.plans.Get(id); ok {
		return p, nil
	}
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return models.Plan{}, err
	}
	s.plans.Add(id, p)
	return p, nil
}

// apply records the event once and runs update for first deliveries. A failed
// update forgets the event so the provider's retry is applied.
func (s *Service) apply(ctx context.Context, provider, eventID, eventType string, payload []byte, update func() error) (string, error) {
	fresh, err := s.store.RecordBillingEvent(ctx, provider, eventID, eventType, payload)
	if err != nil {
		return s.observe(provider, OutcomeFailed), err
	}
	if !fresh {
		slog.InfoContext(ctx, "duplicate webhook delivery", "provider", provider, "event_id", eventID)
		return s.observe(provider, OutcomeDuplicate), nil
	}
	if err := update(); err != nil {
		if ferr := s.store.ForgetBillingEvent(ctx, provider, eventID); ferr != nil {
			slog.ErrorContext(ctx, "forget billing event", "provider", provider, "event_id", eventID, "error", ferr)
		}
		if errors.Is(err, ErrUnknownSubscription) {
			return s.observe(provider, OutcomeIgnored), err
		}
		return s.observe(provider, OutcomeFailed), fmt.Errorf("apply %s %s: %w", provider, eventType, err)
	}
	return s.observe(provider, OutcomeApplied), nil
}

func (s *Service) observe(provider, outcome string) string {
	telemetry.WebhookEvents.WithLabelValues(provider, outcome).Inc()
	return outcome
}
