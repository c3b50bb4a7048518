package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"reddit-lead-generator/internal/models"
)

const leadColumns = "id, owner_id, product_id, external_id, title, selftext, url, subreddit, author, score, num_comments, comment, read, release_at, created_at"

const leadColumnCount = 15

// Postgres caps bind parameters at 65535 per statement.
const maxLeadsPerStatement = 65535 / leadColumnCount

// ExistingExternalIDs returns the subset of externalIDs that ownerID already has leads for.
func (s *Store) ExistingExternalIDs(ctx context.Context, ownerID string, externalIDs []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(externalIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT external_id FROM leads WHERE owner_id = $1 AND external_id = ANY($2)
	`, ownerID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("query existing external ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan external id: %w", err)
		}
		out[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate external ids: %w", err)
	}
	return out, nil
}

// InsertLeads bulk-inserts a scheduled batch. The batch is one statement, or
// one transaction when it exceeds the bind parameter limit, so it is never
// partially visible. Rows conflicting on (owner_id, external_id) are skipped.
// It returns the ids of the rows actually inserted.
func (s *Store) InsertLeads(ctx context.Context, leads []models.Lead) ([]string, error) {
	if len(leads) == 0 {
		return nil, nil
	}
	if len(leads) <= maxLeadsPerStatement {
		ids, err := insertLeadChunk(ctx, s.pool, leads)
		if err != nil {
			return nil, fmt.Errorf("insert leads: %w", err)
		}
		return ids, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var inserted []string
	for start := 0; start < len(leads); start += maxLeadsPerStatement {
		end := start + maxLeadsPerStatement
		if end > len(leads) {
			end = len(leads)
		}
		ids, err := insertLeadChunk(ctx, tx, leads[start:end])
		if err != nil {
			return nil, fmt.Errorf("insert leads chunk at %d: %w", start, err)
		}
		inserted = append(inserted, ids...)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func insertLeadChunk(ctx context.Context, q queryer, leads []models.Lead) ([]string, error) {
	sql, args := insertLeadsStatement(leads)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0, len(leads))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan inserted id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func insertLeadsStatement(leads []models.Lead) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO leads (")
	b.WriteString(leadColumns)
	b.WriteString(") VALUES ")
	args := make([]any, 0, len(leads)*leadColumnCount)
	for i, l := range leads {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < leadColumnCount; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*leadColumnCount+c+1)
		}
		b.WriteByte(')')
		args = append(args,
			l.ID, l.OwnerID, l.ProductID, l.ExternalID,
			l.Title, l.Selftext, l.URL, l.Subreddit, l.Author,
			l.Score, l.NumComments, l.Comment, l.Read,
			l.ReleaseAt, l.CreatedAt,
		)
	}
	b.WriteString(" ON CONFLICT (owner_id, external_id) DO NOTHING RETURNING id")
	return b.String(), args
}

// ReleasedLeads returns ownerID's leads with release_at <= now, most recently released first.
func (s *Store) ReleasedLeads(ctx context.Context, ownerID string, now time.Time) ([]models.Lead, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE owner_id = $1 AND release_at <= $2
		ORDER BY release_at DESC, id
	`, ownerID, now)
	if err != nil {
		return nil, fmt.Errorf("query released leads: %w", err)
	}
	defer rows.Close()

	var out []models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(
			&l.ID, &l.OwnerID, &l.ProductID, &l.ExternalID,
			&l.Title, &l.Selftext, &l.URL, &l.Subreddit, &l.Author,
			&l.Score, &l.NumComments, &l.Comment, &l.Read,
			&l.ReleaseAt, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return out, nil
}

// UnreadReleasedCount counts released leads the owner has not read yet.
func (s *Store) UnreadReleasedCount(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM leads WHERE owner_id = $1 AND release_at <= $2 AND NOT read
	`, ownerID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread leads: %w", err)
	}
	return n, nil
}

// SetLeadRead flips the visibility flag of one of ownerID's leads.
func (s *Store) SetLeadRead(ctx context.Context, ownerID, leadID string, read bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE leads SET read = $3 WHERE id = $1 AND owner_id = $2
	`, leadID, ownerID, read)
	if err != nil {
		return fmt.Errorf("update lead read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}
	return nil
}

// DeleteLead removes one of ownerID's leads.
func (s *Store) DeleteLead(ctx context.Context, ownerID, leadID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM leads WHERE id = $1 AND owner_id = $2
	`, leadID, ownerID)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}
	return nil
}
