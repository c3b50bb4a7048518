package store

import (
	"context"
	"fmt"

	"reddit-lead-generator/internal/models"
)

// GetOnboarding returns the user's onboarding row, creating an incomplete one on first access.
func (s *Store) GetOnboarding(ctx context.Context, userID string) (models.Onboarding, error) {
	var o models.Onboarding
	err := s.pool.QueryRow(ctx, `
		INSERT INTO onboarding (user_id, completed, created_at, updated_at)
		VALUES ($1, FALSE, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, completed, created_at, updated_at
	`, userID).Scan(&o.UserID, &o.Completed, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return models.Onboarding{}, fmt.Errorf("get onboarding: %w", err)
	}
	return o, nil
}

// SetOnboardingCompleted marks onboarding done or resets it.
func (s *Store) SetOnboardingCompleted(ctx context.Context, userID string, completed bool) (models.Onboarding, error) {
	var o models.Onboarding
	err := s.pool.QueryRow(ctx, `
		INSERT INTO onboarding (user_id, completed, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET completed = EXCLUDED.completed, updated_at = NOW()
		RETURNING user_id, completed, created_at, updated_at
	`, userID, completed).Scan(&o.UserID, &o.Completed, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return models.Onboarding{}, fmt.Errorf("set onboarding: %w", err)
	}
	return o, nil
}
