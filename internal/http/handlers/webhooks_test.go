package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/jmylchreest/flipdeck-api/internal/models"
)

// ========================================
// Stripe
// ========================================

const testStripeSecret = "whsec_test_stripe"

func stripeRequest(t *testing.T, eventType string, session map[string]any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":          "evt_" + eventType,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": session},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: raw, Secret: testStripeSecret})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func paidSession(userID, paymentIntent, priceID string) map[string]any {
	return map[string]any{
		"id":             "cs_" + paymentIntent,
		"object":         "checkout.session",
		"payment_status": "paid",
		"payment_intent": paymentIntent,
		"metadata":       map[string]string{"clerk_user_id": userID, "price_id": priceID},
	}
}

func TestStripeWebhook_CreditsRechargeOnce(t *testing.T) {
	env := setupTestEnv(t)
	env.openAccount(t, "user-1", "starter", 0)
	h := NewStripeWebhookHandler("", testStripeSecret, map[string]int64{"price_small": 50}, env.credits, testLogger())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, stripeRequest(t, "checkout.session.completed", paidSession("user-1", "pi_1", "price_small")))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, body %s", i, rec.Code, rec.Body.String())
		}
	}

	acct, _ := env.credits.GetAccount(t.Context(), "user-1")
	if acct.Balance != 50 {
		t.Errorf("balance = %d, want 50 (credited once)", acct.Balance)
	}
	entries, _, _ := env.credits.History(t.Context(), "user-1", 1, 0)
	if entries[0].Source != models.SourceRecharge || entries[0].Reference != "pi_1" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestStripeWebhook_IgnoresUnpaidAndUnknownPacks(t *testing.T) {
	env := setupTestEnv(t)
	env.openAccount(t, "user-1", "starter", 0)
	h := NewStripeWebhookHandler("", testStripeSecret, map[string]int64{"price_small": 50}, env.credits, testLogger())

	unpaid := paidSession("user-1", "pi_2", "price_small")
	unpaid["payment_status"] = "unpaid"
	unknown := paidSession("user-1", "pi_3", "price_unknown")

	for _, session := range []map[string]any{unpaid, unknown} {
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, stripeRequest(t, "checkout.session.completed", session))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	}

	acct, _ := env.credits.GetAccount(t.Context(), "user-1")
	if acct.Balance != 0 {
		t.Errorf("balance = %d, want 0", acct.Balance)
	}
}

func TestStripeWebhook_RejectsBadSignature(t *testing.T) {
	env := setupTestEnv(t)
	h := NewStripeWebhookHandler("", testStripeSecret, nil, env.credits, testLogger())

	req := stripeRequest(t, "checkout.session.completed", paidSession("user-1", "pi_1", "price_small"))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// ========================================
// Clerk
// ========================================

var testClerkSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("clerk-test-signing-secret-32byte"))

func clerkRequest(t *testing.T, eventType string, data any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"type": eventType, "object": "event", "data": data})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	wh, err := svix.NewWebhook(testClerkSecret)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	msgID := fmt.Sprintf("msg_%s_%d", eventType, time.Now().UnixNano())
	now := time.Now()
	signature, err := wh.Sign(msgID, now, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/clerk", bytes.NewReader(payload))
	req.Header.Set("svix-id", msgID)
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("svix-signature", signature)
	return req
}

func TestClerkWebhook_Lifecycle(t *testing.T) {
	env := setupTestEnv(t)
	h := NewClerkWebhookHandler(testClerkSecret, env.credits, testLogger())

	send := func(eventType string, data any) {
		t.Helper()
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, clerkRequest(t, eventType, data))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body %s", eventType, rec.Code, rec.Body.String())
		}
	}

	// Signup opens the account with the starter allotment, once
	send("user.created", map[string]any{"id": "user-1"})
	send("user.created", map[string]any{"id": "user-1"})
	acct, err := env.credits.GetAccount(t.Context(), "user-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acct.Plan != "starter" || acct.Balance != 20 {
		t.Errorf("account = %+v, want starter with 20", acct)
	}

	send("subscriptionItem.active", map[string]any{"id": "si_1", "user_id": "user-1", "status": "active", "plan_slug": "elite"})
	acct, _ = env.credits.GetAccount(t.Context(), "user-1")
	if acct.Plan != "elite" || acct.Balance != 20 {
		t.Errorf("account = %+v, want elite keeping 20", acct)
	}

	send("subscriptionItem.ended", map[string]any{"id": "si_1", "user_id": "user-1"})
	acct, _ = env.credits.GetAccount(t.Context(), "user-1")
	if acct.Plan != "starter" {
		t.Errorf("plan = %q after end, want starter", acct.Plan)
	}

	send("user.deleted", map[string]any{"id": "user-1", "deleted": true})
	if _, err := env.credits.GetAccount(t.Context(), "user-1"); err == nil {
		t.Error("deleted account is still visible")
	}
}

func TestClerkWebhook_RejectsBadSignature(t *testing.T) {
	env := setupTestEnv(t)
	h := NewClerkWebhookHandler(testClerkSecret, env.credits, testLogger())

	req := clerkRequest(t, "user.created", map[string]any{"id": "user-1"})
	req.Header.Set("svix-signature", "v1,AAAA")
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if _, err := env.credits.GetAccount(t.Context(), "user-1"); err == nil {
		t.Error("unverified event opened an account")
	}
}

func TestPlanFromClerk(t *testing.T) {
	tests := []struct {
		slug, id, name string
		want           string
	}{
		{"elite", "", "", "elite"},
		{"", "cplan_pro_monthly", "", "pro"},
		{"", "", "Starter", "starter"},
		{"", "", "Gold", "starter"},
		{"pro", "cplan_elite", "", "pro"},
	}
	for _, tt := range tests {
		if got := planFromClerk(tt.slug, tt.id, tt.name); string(got) != tt.want {
			t.Errorf("planFromClerk(%q, %q, %q) = %s, want %s", tt.slug, tt.id, tt.name, got, tt.want)
		}
	}
}
