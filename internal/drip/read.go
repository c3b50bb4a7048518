package drip

import (
	"sort"
	"time"

	"reddit-lead-generator/internal/models"
)

// Released returns the leads visible at now, most recently released first.
// Ties keep a deterministic order by id. The input is not modified.
func Released(leads []models.Lead, now time.Time) []models.Lead {
	out := make([]models.Lead, 0, len(leads))
	for _, l := range leads {
		if l.Released(now) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ReleaseAt.Equal(out[j].ReleaseAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReleaseAt.After(out[j].ReleaseAt)
	})
	return out
}
