package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"reddit-lead-generator/internal/models"
)

// CreateProductParams collects inputs required to insert a product.
type CreateProductParams struct {
	OwnerID        string
	Name           string
	URL            string
	Description    string
	TargetAudience string
	ProblemSolved  string
}

// CreateProduct inserts a product owned by p.OwnerID.
func (s *Store) CreateProduct(ctx context.Context, p CreateProductParams) (models.Product, error) {
	product := models.Product{
		ID:             uuid.New().String(),
		OwnerID:        p.OwnerID,
		Name:           p.Name,
		URL:            p.URL,
		Description:    p.Description,
		TargetAudience: p.TargetAudience,
		ProblemSolved:  p.ProblemSolved,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, owner_id, name, url, description, target_audience, problem_solved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, product.ID, product.OwnerID, product.Name, product.URL, product.Description, product.TargetAudience, product.ProblemSolved, product.CreatedAt)
	if err != nil {
		return models.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

const productColumns = "id, owner_id, name, url, description, target_audience, problem_solved, created_at"

func scanProduct(row pgx.Row) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.URL, &p.Description, &p.TargetAudience, &p.ProblemSolved, &p.CreatedAt)
	return p, err
}

// GetProduct fetches a product by id.
func (s *Store) GetProduct(ctx context.Context, id string) (models.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("scan product: %w", err)
	}
	return p, nil
}

// ListProducts returns ownerID's products, newest first.
func (s *Store) ListProducts(ctx context.Context, ownerID string) ([]models.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+` FROM products WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()
	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProductSubreddits lists the subreddits searched for a product.
func (s *Store) ProductSubreddits(ctx context.Context, productID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subreddit FROM lead_subreddits WHERE product_id = $1 ORDER BY subreddit
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("query subreddits: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sub string
		if err := rows.Scan(&sub); err != nil {
			return nil, fmt.Errorf("scan subreddit: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SetProductSubreddits replaces the subreddit list of a product owned by ownerID.
func (s *Store) SetProductSubreddits(ctx context.Context, ownerID, productID string, subreddits []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var owner string
	err = tx.QueryRow(ctx, `SELECT owner_id FROM products WHERE id = $1`, productID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != ownerID) {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup product owner: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM lead_subreddits WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("clear subreddits: %w", err)
	}
	seen := make(map[string]struct{}, len(subreddits))
	for _, sub := range subreddits {
		sub = normalizeSubreddit(sub)
		if sub == "" {
			continue
		}
		if _, dup := seen[sub]; dup {
			continue
		}
		seen[sub] = struct{}{}
		if _, err := tx.Exec(ctx, `
			INSERT INTO lead_subreddits (product_id, subreddit) VALUES ($1, $2)
		`, productID, sub); err != nil {
			return fmt.Errorf("insert subreddit %s: %w", sub, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func normalizeSubreddit(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimPrefix(s, "r/")
	return strings.ToLower(s)
}

// ListSweepTargets returns every product with subreddits whose owner holds an
// active subscription or an unexpired trial.
func (s *Store) ListSweepTargets(ctx context.Context) ([]models.SweepTarget, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.owner_id, p.id
		FROM products p
		JOIN user_subscriptions us ON us.user_id = p.owner_id
		WHERE (us.status = 'active' OR (us.status = 'trialing' AND (us.trial_end IS NULL OR us.trial_end > NOW())))
		  AND EXISTS (SELECT 1 FROM lead_subreddits ls WHERE ls.product_id = p.id)
		ORDER BY p.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query sweep targets: %w", err)
	}
	defer rows.Close()
	var out []models.SweepTarget
	for rows.Next() {
		var t models.SweepTarget
		if err := rows.Scan(&t.OwnerID, &t.ProductID); err != nil {
			return nil, fmt.Errorf("scan sweep target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
