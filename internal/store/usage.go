package store

import (
	"context"
	"fmt"
	"time"

	"reddit-lead-generator/internal/models"
)

// IncrementUsage bumps the user's counter for feature in the month starting at
// period and returns the new count.
func (s *Store) IncrementUsage(ctx context.Context, userID, feature string, period time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscription_usage (user_id, feature_name, reset_date, usage_count, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (user_id, feature_name, reset_date)
		DO UPDATE SET usage_count = subscription_usage.usage_count + 1, updated_at = NOW()
		RETURNING usage_count
	`, userID, feature, period).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return n, nil
}

// UsageForPeriod returns the user's per-feature counters for the month starting at period.
func (s *Store) UsageForPeriod(ctx context.Context, userID string, period time.Time) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT feature_name, usage_count FROM subscription_usage WHERE user_id = $1 AND reset_date = $2
	`, userID, period)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			feature string
			n       int64
		)
		if err := rows.Scan(&feature, &n); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out[feature] = n
	}
	return out, rows.Err()
}

// ListActivePlans returns the plans open for purchase.
func (s *Store) ListActivePlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, features, is_active FROM subscription_plans WHERE is_active ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()
	var out []models.Plan
	for rows.Next() {
		var p models.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Features, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
