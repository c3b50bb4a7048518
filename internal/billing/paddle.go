package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"reddit-lead-generator/internal/models"
	"reddit-lead-generator/internal/store"
)

// Signatures older than this are rejected as replays.
const paddleMaxSkew = 5 * time.Minute

type paddleEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID             string `json:"id"`
		SubscriptionID string `json:"subscription_id"`
		Status         string `json:"status"`
		CustomData     struct {
			UserID string `json:"user_id"`
		} `json:"custom_data"`
		CurrentBillingPeriod *struct {
			EndsAt time.Time `json:"ends_at"`
		} `json:"current_billing_period"`
		CanceledAt *time.Time `json:"canceled_at"`
	} `json:"data"`
}

// VerifyPaddleSignature checks a Paddle-Signature header (ts=<unix>;h1=<hex>)
// against body.
func VerifyPaddleSignature(secret, header string, body []byte, now time.Time) error {
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "h1":
			sigs = append(sigs, v)
		}
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || len(sigs) == 0 {
		return ErrInvalidSignature
	}
	if skew := now.Sub(time.Unix(unix, 0)); skew > paddleMaxSkew || skew < -paddleMaxSkew {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":"))
	mac.Write(body)
	want := mac.Sum(nil)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err == nil && hmac.Equal(got, want) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// HandlePaddle verifies and applies one Paddle webhook delivery.
func (s *Service) HandlePaddle(ctx context.Context, signature string, body []byte) (string, error) {
	if err := VerifyPaddleSignature(s.paddleSecret, signature, body, s.now()); err != nil {
		return s.observe(models.ProviderPaddle, OutcomeRejected), err
	}
	var ev paddleEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.EventID == "" || ev.EventType == "" {
		return s.observe(models.ProviderPaddle, OutcomeRejected), ErrMalformedEvent
	}
	status, ok := paddleStatus(ev.EventType, ev.Data.Status)
	if !ok {
		slog.InfoContext(ctx, "unhandled paddle event", "event_type", ev.EventType)
		return s.observe(models.ProviderPaddle, OutcomeIgnored), nil
	}
	return s.apply(ctx, models.ProviderPaddle, ev.EventID, ev.EventType, body, func() error {
		return s.applyPaddle(ctx, ev, status)
	})
}

func (s *Service) applyPaddle(ctx context.Context, ev paddleEvent, status string) error {
	subID := ev.Data.SubscriptionID
	if strings.HasPrefix(ev.EventType, "subscription.") {
		subID = ev.Data.ID
	}
	userID := ev.Data.CustomData.UserID
	if userID == "" && subID != "" {
		existing, err := s.store.FindSubscriptionByProviderID(ctx, models.ProviderPaddle, subID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		userID = existing.UserID
	}
	if userID == "" {
		return fmt.Errorf("paddle %s: %w", ev.EventType, ErrUnknownSubscription)
	}

	now := s.now().UTC()
	sub := models.Subscription{
		UserID:                 userID,
		PlanID:                 s.defaultPlanID,
		Provider:               models.ProviderPaddle,
		ProviderSubscriptionID: subID,
		Status:                 status,
	}
	switch status {
	case models.SubscriptionTrialing:
		if ev.EventType == "subscription.created" {
			end := now.Add(s.trialPeriod)
			sub.TrialEnd = &end
		}
	case models.SubscriptionCancelled:
		sub.CancelledAt = &now
		if ev.Data.CanceledAt != nil {
			sub.CancelledAt = ev.Data.CanceledAt
		}
	}
	if p := ev.Data.CurrentBillingPeriod; p != nil && !p.EndsAt.IsZero() {
		end := p.EndsAt
		sub.CurrentPeriodEnd = &end
	}
	return s.store.UpsertSubscription(ctx, sub)
}

// paddleStatus maps an event to the resulting subscription status.
func paddleStatus(eventType, dataStatus string) (string, bool) {
	switch eventType {
	case "subscription.created":
		return models.SubscriptionTrialing, true
	case "subscription.activated", "subscription.resumed", "transaction.completed":
		return models.SubscriptionActive, true
	case "subscription.canceled", "subscription.cancelled":
		return models.SubscriptionCancelled, true
	case "subscription.paused":
		return models.SubscriptionPaused, true
	case "transaction.payment_failed":
		return models.SubscriptionPastDue, true
	case "subscription.updated", "subscription.past_due", "subscription.trialing":
		switch dataStatus {
		case "active":
			return models.SubscriptionActive, true
		case "trialing":
			return models.SubscriptionTrialing, true
		case "past_due":
			return models.SubscriptionPastDue, true
		case "paused":
			return models.SubscriptionPaused, true
		case "canceled", "cancelled":
			return models.SubscriptionCancelled, true
		}
	}
	return "", false
}
