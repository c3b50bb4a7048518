package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"reddit-lead-generator/internal/models"
)

// PayTRHash computes the callback hash PayTR sends for an order.
func PayTRHash(key, salt, merchantOID, status, totalAmount string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(merchantOID + salt + status + totalAmount))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// PayTRUserID recovers the user id from a merchant_oid of the form
// <uuid without dashes><suffix>.
func PayTRUserID(merchantOID string) (string, error) {
	if len(merchantOID) < 32 {
		return "", fmt.Errorf("merchant_oid %q: %w", merchantOID, ErrUnknownSubscription)
	}
	id, err := uuid.Parse(merchantOID[:32])
	if err != nil {
		return "", fmt.Errorf("merchant_oid %q: %w", merchantOID, ErrUnknownSubscription)
	}
	return id.String(), nil
}

// HandlePayTR verifies and applies one PayTR payment callback.
func (s *Service) HandlePayTR(ctx context.Context, form url.Values) (string, error) {
	oid := form.Get("merchant_oid")
	status := form.Get("status")
	amount := form.Get("total_amount")
	if s.paytrKey == "" || oid == "" {
		return s.observe(models.ProviderPayTR, OutcomeRejected), ErrInvalidSignature
	}
	want := PayTRHash(s.paytrKey, s.paytrSalt, oid, status, amount)
	if !hmac.Equal([]byte(want), []byte(form.Get("hash"))) {
		return s.observe(models.ProviderPayTR, OutcomeRejected), ErrInvalidSignature
	}
	userID, err := PayTRUserID(oid)
	if err != nil {
		return s.observe(models.ProviderPayTR, OutcomeRejected), err
	}

	payload, err := json.Marshal(form)
	if err != nil {
		return s.observe(models.ProviderPayTR, OutcomeFailed), err
	}
	next := models.SubscriptionPastDue
	if status == "success" {
		next = models.SubscriptionActive
	}
	return s.apply(ctx, models.ProviderPayTR, oid+":"+status, "payment."+status, payload, func() error {
		return s.store.UpsertSubscription(ctx, models.Subscription{
			UserID:                 userID,
			PlanID:                 s.defaultPlanID,
			Provider:               models.ProviderPayTR,
			ProviderSubscriptionID: oid,
			Status:                 next,
		})
	})
}
