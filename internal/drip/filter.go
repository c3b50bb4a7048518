package drip

import (
	"context"
	"fmt"
	"strings"

	"reddit-lead-generator/internal/models"
)

// ExternalIDLookup answers which of the given external ids an owner already
// has leads for. Implementations return a set; ids not in it are new.
type ExternalIDLookup interface {
	ExistingExternalIDs(ctx context.Context, ownerID string, externalIDs []string) (map[string]struct{}, error)
}

// FilterStats counts what the duplicate filter dropped.
type FilterStats struct {
	Invalid    int
	Duplicates int
}

// Filter keeps the candidates whose external id is non-empty and has never
// been scheduled for ownerID, preserving order. A repeated id inside the
// batch keeps only its first occurrence. An empty batch never hits the store.
func Filter(ctx context.Context, lookup ExternalIDLookup, ownerID string, candidates []models.Candidate) ([]models.Candidate, FilterStats, error) {
	var stats FilterStats
	if len(candidates) == 0 {
		return nil, stats, nil
	}

	valid := make([]models.Candidate, 0, len(candidates))
	ids := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		id := strings.TrimSpace(c.ExternalID)
		if id == "" {
			stats.Invalid++
			continue
		}
		if _, dup := seen[id]; dup {
			stats.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		c.ExternalID = id
		valid = append(valid, c)
		ids = append(ids, id)
	}
	if len(valid) == 0 {
		return nil, stats, nil
	}

	existing, err := lookup.ExistingExternalIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, stats, fmt.Errorf("lookup existing external ids: %w", err)
	}

	out := valid[:0]
	for _, c := range valid {
		if _, ok := existing[c.ExternalID]; ok {
			stats.Duplicates++
			continue
		}
		out = append(out, c)
	}
	return out, stats, nil
}
