package models

import "time"

// Subscription statuses persisted in user_subscriptions.
const (
	SubscriptionFree      = "free"
	SubscriptionTrialing  = "trialing"
	SubscriptionActive    = "active"
	SubscriptionPastDue   = "past_due"
	SubscriptionPaused    = "paused"
	SubscriptionCancelled = "cancelled"
)

// Payment providers.
const (
	ProviderPaddle = "paddle"
	ProviderPayTR  = "paytr"
)

// FeatureLeadGeneration is the usage counter bumped by every successful generation run.
const FeatureLeadGeneration = "lead_generation"

// UsagePeriod returns the first day of t's month in UTC. Usage counters reset on it.
func UsagePeriod(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Plan is a row of subscription_plans.
type Plan struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Features []string `json:"features"`
	IsActive bool     `json:"is_active"`
}

// HasFeature reports whether the plan includes feature.
func (p Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Subscription is the webhook-maintained subscription state of a user.
type Subscription struct {
	UserID                 string     `json:"user_id"`
	PlanID                 string     `json:"plan_id,omitempty"`
	Provider               string     `json:"provider"`
	ProviderSubscriptionID string     `json:"provider_subscription_id,omitempty"`
	Status                 string     `json:"status"`
	TrialEnd               *time.Time `json:"trial_end,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
