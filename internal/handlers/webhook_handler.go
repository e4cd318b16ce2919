package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/services"
)

const (
	providerStripe = "stripe"
	// metadataUserID is set through Checkout's subscription_data.metadata.
	metadataUserID = "user_id"
)

type WebhookHandler struct {
	payments *services.PaymentService
	secret   string
}

func NewWebhookHandler(payments *services.PaymentService, secret string) *WebhookHandler {
	return &WebhookHandler{payments: payments, secret: secret}
}

// HandleStripe verifies the Stripe-Signature header and turns subscription lifecycle events into ledger appends.
// Events we do not act on are acknowledged so Stripe stops retrying them.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	if h.secret == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: "Webhooks not configured",
		})
	}

	event, err := webhook.ConstructEventWithOptions(
		c.Body(),
		c.Get("Stripe-Signature"),
		h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		slog.Warn("stripe signature verification failed", "error", err)
		return badRequest(c, "Signature verification failed")
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return badRequest(c, "Failed to parse checkout session")
		}
		return h.link(c, event.ID, &sess)

	case "customer.subscription.created":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return badRequest(c, "Failed to parse subscription")
		}
		h.linkFromMetadata(c, event.ID, &sub)
		return h.apply(c, services.PaymentEvent{
			ID:             event.ID,
			Provider:       providerStripe,
			Type:           services.SubscriptionCreated,
			SubscriptionID: sub.ID,
			PeriodEnd:      unixTime(sub.CurrentPeriodEnd),
		})

	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return badRequest(c, "Failed to parse invoice")
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return c.JSON(fiber.Map{"received": true, "status": "ignored"})
		}
		return h.apply(c, services.PaymentEvent{
			ID:             event.ID,
			Provider:       providerStripe,
			Type:           services.SubscriptionRenewed,
			SubscriptionID: inv.Subscription.ID,
			PeriodEnd:      invoicePeriodEnd(&inv),
		})

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return badRequest(c, "Failed to parse subscription")
		}
		return h.apply(c, services.PaymentEvent{
			ID:             event.ID,
			Provider:       providerStripe,
			Type:           services.SubscriptionCancelled,
			SubscriptionID: sub.ID,
		})

	default:
		return c.JSON(fiber.Map{"received": true, "status": "ignored"})
	}
}

func (h *WebhookHandler) apply(c *fiber.Ctx, ev services.PaymentEvent) error {
	applied, err := h.payments.Apply(c.UserContext(), ev)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		// Stripe does not order deliveries, so the checkout that links this subscription may still be on
		// its way. Any non-2xx reply makes Stripe redeliver; nothing was marked processed.
		slog.Warn("payment event for unlinked subscription",
			"event_id", ev.ID, "event_type", ev.Type, "subscription_id", ev.SubscriptionID)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"received": false, "status": "unlinked"})
	case err != nil:
		return respondError(c, err)
	}

	status := "applied"
	if !applied {
		status = "duplicate"
	}
	slog.Info("payment event processed", "event_id", ev.ID, "event_type", ev.Type, "status", status)
	return c.JSON(fiber.Map{"received": true, "status": status})
}

func (h *WebhookHandler) link(c *fiber.Ctx, eventID string, sess *stripe.CheckoutSession) error {
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return c.JSON(fiber.Map{"received": true, "status": "ignored"})
	}
	userID, err := uuid.Parse(sess.ClientReferenceID)
	if err != nil {
		slog.Warn("checkout session without a user reference", "event_id", eventID, "session_id", sess.ID)
		return c.JSON(fiber.Map{"received": true, "status": "unmatched"})
	}

	err = h.payments.LinkSubscription(c.UserContext(), sess.Subscription.ID, userID)
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrConflict):
		slog.Warn("subscription link rejected", "event_id", eventID, "subscription_id", sess.Subscription.ID, "error", err)
		return c.JSON(fiber.Map{"received": true, "status": "unmatched"})
	case err != nil:
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"received": true, "status": "linked"})
}

// linkFromMetadata links a subscription that names its user in metadata, so its own events do not wait on
// checkout.session.completed. A missing or rejected link is left to the checkout event.
func (h *WebhookHandler) linkFromMetadata(c *fiber.Ctx, eventID string, sub *stripe.Subscription) {
	raw := sub.Metadata[metadataUserID]
	if raw == "" || sub.ID == "" {
		return
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		slog.Warn("subscription metadata has a malformed user id", "event_id", eventID, "subscription_id", sub.ID)
		return
	}
	if err := h.payments.LinkSubscription(c.UserContext(), sub.ID, userID); err != nil {
		slog.Warn("subscription metadata link rejected", "event_id", eventID, "subscription_id", sub.ID, "error", err)
	}
}

// invoicePeriodEnd is the latest period end across the invoice's lines.
func invoicePeriodEnd(inv *stripe.Invoice) *time.Time {
	var end int64
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End > end {
				end = line.Period.End
			}
		}
	}
	return unixTime(end)
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
