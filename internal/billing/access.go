package billing

import (
	"time"

	"reddit-lead-generator/internal/models"
)

// Access reports whether sub grants feature under plan at now. Only active
// subscriptions and unexpired trials grant anything.
func Access(sub models.Subscription, plan models.Plan, feature string, now time.Time) bool {
	switch sub.Status {
	case models.SubscriptionActive:
	case models.SubscriptionTrialing:
		if sub.TrialEnd != nil && !now.Before(*sub.TrialEnd) {
			return false
		}
	default:
		return false
	}
	return plan.IsActive && plan.HasFeature(feature)
}

// denyReason explains a negative Access result to the client.
func denyReason(sub models.Subscription, plan models.Plan, feature string, now time.Time) string {
	switch {
	case sub.Status == models.SubscriptionTrialing && sub.TrialEnd != nil && !now.Before(*sub.TrialEnd):
		return "trial expired"
	case sub.Status != models.SubscriptionActive && sub.Status != models.SubscriptionTrialing:
		return "subscription " + sub.Status
	case !plan.IsActive:
		return "plan inactive"
	case !plan.HasFeature(feature):
		return "feature not in plan"
	}
	return ""
}
