package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"reddit-lead-generator/internal/models"
)

const subscriptionColumns = "user_id, plan_id, provider, provider_subscription_id, status, trial_end, current_period_end, cancelled_at, updated_at"

func scanSubscription(row pgx.Row) (models.Subscription, error) {
	var (
		sub         models.Subscription
		planID      pgtype.Text
		providerSub pgtype.Text
		trialEnd    pgtype.Timestamptz
		periodEnd   pgtype.Timestamptz
		cancelledAt pgtype.Timestamptz
	)
	if err := row.Scan(&sub.UserID, &planID, &sub.Provider, &providerSub, &sub.Status, &trialEnd, &periodEnd, &cancelledAt, &sub.UpdatedAt); err != nil {
		return models.Subscription{}, err
	}
	sub.PlanID = textValue(planID)
	sub.ProviderSubscriptionID = textValue(providerSub)
	sub.TrialEnd = timePtr(trialEnd)
	sub.CurrentPeriodEnd = timePtr(periodEnd)
	sub.CancelledAt = timePtr(cancelledAt)
	return sub, nil
}

// GetSubscription returns the user's subscription or ErrNotFound.
func (s *Store) GetSubscription(ctx context.Context, userID string) (models.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE user_id = $1
	`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subscription{}, fmt.Errorf("subscription for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return models.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	return sub, nil
}

// FindSubscriptionByProviderID resolves a provider subscription id to the stored subscription.
func (s *Store) FindSubscriptionByProviderID(ctx context.Context, provider, providerSubscriptionID string) (models.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM user_subscriptions
		WHERE provider = $1 AND provider_subscription_id = $2
	`, provider, providerSubscriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subscription{}, fmt.Errorf("subscription %s/%s: %w", provider, providerSubscriptionID, ErrNotFound)
	}
	if err != nil {
		return models.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	return sub, nil
}

// UpsertSubscription writes the full subscription state for sub.UserID.
// Empty PlanID and nil timestamps keep the stored values.
func (s *Store) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_subscriptions (user_id, plan_id, provider, provider_subscription_id, status, trial_end, current_period_end, cancelled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id = COALESCE(EXCLUDED.plan_id, user_subscriptions.plan_id),
			provider = EXCLUDED.provider,
			provider_subscription_id = COALESCE(EXCLUDED.provider_subscription_id, user_subscriptions.provider_subscription_id),
			status = EXCLUDED.status,
			trial_end = COALESCE(EXCLUDED.trial_end, user_subscriptions.trial_end),
			current_period_end = COALESCE(EXCLUDED.current_period_end, user_subscriptions.current_period_end),
			cancelled_at = COALESCE(EXCLUDED.cancelled_at, user_subscriptions.cancelled_at),
			updated_at = NOW()
	`, sub.UserID, emptyToNil(sub.PlanID), sub.Provider, emptyToNil(sub.ProviderSubscriptionID), sub.Status, sub.TrialEnd, sub.CurrentPeriodEnd, sub.CancelledAt)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// GetPlan looks up a plan by id.
func (s *Store) GetPlan(ctx context.Context, planID string) (models.Plan, error) {
	var p models.Plan
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, features, is_active FROM subscription_plans WHERE id = $1
	`, planID).Scan(&p.ID, &p.Name, &p.Features, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Plan{}, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	if err != nil {
		return models.Plan{}, fmt.Errorf("scan plan: %w", err)
	}
	return p, nil
}

// RecordBillingEvent stores a provider event once. It reports false when the
// event id was already recorded.
func (s *Store) RecordBillingEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO billing_events (provider, event_id, event_type, payload, received_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType, payload)
	if err != nil {
		return false, fmt.Errorf("insert billing event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ForgetBillingEvent deletes a recorded event so a failed delivery can be retried.
func (s *Store) ForgetBillingEvent(ctx context.Context, provider, eventID string) error {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM billing_events WHERE provider = $1 AND event_id = $2
	`, provider, eventID); err != nil {
		return fmt.Errorf("delete billing event: %w", err)
	}
	return nil
}
