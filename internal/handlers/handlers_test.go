package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v75/webhook"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store/memstore"
)

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func TestRespondError_StatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
		msg    string
	}{
		{apperr.Validation("reason is required"), 400, "validation_error", "validation error: reason is required"},
		{fmt.Errorf("%w: role full cannot revoke", apperr.ErrAuthorization), 403, "authorization_error", "Insufficient privileges"},
		{fmt.Errorf("%w: provider", apperr.ErrForbiddenRevocation), 409, "forbidden_revocation", "revocation forbidden: provider"},
		{apperr.NotFound("user"), 404, "not_found", "not found: user"},
		{apperr.ErrConflict, 409, "conflict", "conflict"},
		{apperr.ErrRateLimited, 429, "rate_limited", "too many attempts"},
		{apperr.Internal("load", errors.New("connection reset")), 500, "internal_error", "Internal server error"},
		{errors.New("unclassified"), 500, "internal_error", "Internal server error"},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tc.err) })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)

			body := decode[dto.ErrorResponse](t, resp)
			assert.True(t, body.Error)
			assert.Equal(t, tc.kind, body.Kind)
			assert.Equal(t, tc.msg, body.Message)
		})
	}
}

func TestRespondError_InvalidToken(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return respondError(c, services.ErrInvalidToken) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	app.Get("/ok", NewHealthHandler(nil).Check)
	app.Get("/down", NewHealthHandler(func(context.Context) error { return errors.New("refused") }).Check)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", decode[dto.HealthResponse](t, resp).DB)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/down", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unhealthy: refused", decode[dto.HealthResponse](t, resp).DB)
}

const whsec = "whsec_test_secret"

type webhookFixture struct {
	app  *fiber.App
	ids  *services.IdentityService
	ent  *services.EntitlementService
	pay  *services.PaymentService
	hook *WebhookHandler
}

func newWebhookFixture(secret string) *webhookFixture {
	st := memstore.New()
	ent := services.NewEntitlementService(st, nil)
	f := &webhookFixture{
		app: fiber.New(),
		ids: services.NewIdentityService(st),
		ent: ent,
		pay: services.NewPaymentService(st, ent),
	}
	f.hook = NewWebhookHandler(f.pay, secret)
	f.app.Post("/stripe", f.hook.HandleStripe)
	return f
}

func (f *webhookFixture) post(t *testing.T, payload []byte, header string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", header)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	return resp
}

func (f *webhookFixture) send(t *testing.T, payload []byte) *http.Response {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: whsec})
	return f.post(t, signed.Payload, signed.Header)
}

func stripeEvent(id, typ string, object map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"api_version": "2023-10-16",
		"data":        map[string]any{"object": object},
	})
	return b
}

type ack struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

func TestStripeWebhook_SubscriptionLifecycle(t *testing.T) {
	f := newWebhookFixture(whsec)
	ctx := context.Background()

	user, err := f.ids.Resolve(ctx, "stripe-user", "payer@example.com", "")
	require.NoError(t, err)

	checkout := stripeEvent("evt_1", "checkout.session.completed", map[string]any{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"client_reference_id": user.ID.String(),
		"subscription":        "sub_1",
	})
	resp := f.send(t, checkout)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "linked", decode[ack](t, resp).Status)

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	created := stripeEvent("evt_2", "customer.subscription.created", map[string]any{
		"id":                 "sub_1",
		"object":             "subscription",
		"current_period_end": periodEnd,
	})
	resp = f.send(t, created)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", decode[ack](t, resp).Status)

	st := f.ent.Current(ctx, user.ID)
	require.True(t, st.Active)
	require.NotNil(t, st.Until)
	assert.Equal(t, periodEnd, st.Until.Unix())

	resp = f.send(t, created)
	assert.Equal(t, "duplicate", decode[ack](t, resp).Status)
}

func TestStripeWebhook_OutOfOrderDeliveryIsRetried(t *testing.T) {
	f := newWebhookFixture(whsec)
	ctx := context.Background()

	user, err := f.ids.Resolve(ctx, "early-payer", "early@example.com", "")
	require.NoError(t, err)

	firstEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	renewedEnd := time.Now().Add(60 * 24 * time.Hour).Unix()
	created := stripeEvent("evt_c", "customer.subscription.created", map[string]any{
		"id":                 "sub_early",
		"object":             "subscription",
		"current_period_end": firstEnd,
	})
	invoice := stripeEvent("evt_inv", "invoice.payment_succeeded", map[string]any{
		"id":           "in_1",
		"object":       "invoice",
		"subscription": "sub_early",
		"lines": map[string]any{
			"object": "list",
			"data": []any{map[string]any{
				"id":     "il_1",
				"object": "line_item",
				"period": map[string]any{"start": time.Now().Unix(), "end": renewedEnd},
			}},
		},
	})
	checkout := stripeEvent("evt_cs", "checkout.session.completed", map[string]any{
		"id":                  "cs_early",
		"object":              "checkout.session",
		"client_reference_id": user.ID.String(),
		"subscription":        "sub_early",
	})

	// Both arrive before the checkout that links them.
	resp := f.send(t, created)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "unlinked", decode[ack](t, resp).Status)
	resp = f.send(t, invoice)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, f.ent.Current(ctx, user.ID).Active)

	resp = f.send(t, checkout)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "linked", decode[ack](t, resp).Status)

	// Stripe redelivers the rejected events, in any order.
	resp = f.send(t, invoice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", decode[ack](t, resp).Status)
	resp = f.send(t, created)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", decode[ack](t, resp).Status)

	st := f.ent.Current(ctx, user.ID)
	require.True(t, st.Active)
	require.NotNil(t, st.Until)
	assert.Equal(t, renewedEnd, st.Until.Unix())
}

func TestStripeWebhook_SubscriptionMetadataLinks(t *testing.T) {
	f := newWebhookFixture(whsec)
	ctx := context.Background()

	user, err := f.ids.Resolve(ctx, "meta-payer", "meta@example.com", "")
	require.NoError(t, err)

	resp := f.send(t, stripeEvent("evt_m", "customer.subscription.created", map[string]any{
		"id":                 "sub_meta",
		"object":             "subscription",
		"current_period_end": time.Now().Add(30 * 24 * time.Hour).Unix(),
		"metadata":           map[string]any{"user_id": user.ID.String()},
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", decode[ack](t, resp).Status)
	assert.True(t, f.ent.Current(ctx, user.ID).Active)

	resp = f.send(t, stripeEvent("evt_bad", "customer.subscription.created", map[string]any{
		"id":                 "sub_bad_meta",
		"object":             "subscription",
		"current_period_end": time.Now().Add(30 * 24 * time.Hour).Unix(),
		"metadata":           map[string]any{"user_id": "not-a-uuid"},
	}))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStripeWebhook_Acknowledgements(t *testing.T) {
	f := newWebhookFixture(whsec)

	resp := f.send(t, stripeEvent("evt_u", "customer.subscription.deleted", map[string]any{
		"id": "sub_unknown", "object": "subscription",
	}))
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "redelivered until a checkout links it")

	resp = f.send(t, stripeEvent("evt_cs_u", "checkout.session.completed", map[string]any{
		"id": "cs_u", "object": "checkout.session", "subscription": "sub_x",
		"client_reference_id": "00000000-0000-0000-0000-000000000001",
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unmatched", decode[ack](t, resp).Status, "a checkout for an unknown user is not retried")

	resp = f.send(t, stripeEvent("evt_i", "customer.created", map[string]any{
		"id": "cus_1", "object": "customer",
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", decode[ack](t, resp).Status)
}

func TestStripeWebhook_Rejections(t *testing.T) {
	payload := stripeEvent("evt_x", "customer.subscription.created", map[string]any{"id": "sub_x", "object": "subscription"})

	f := newWebhookFixture(whsec)
	resp := f.post(t, payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
	resp = f.post(t, forged.Payload, forged.Header)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	unconfigured := newWebhookFixture("")
	resp = unconfigured.send(t, payload)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
