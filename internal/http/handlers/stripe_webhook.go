package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/service"
)

// StripeWebhookHandler credits purchased recharge packs.
type StripeWebhookHandler struct {
	secret  string
	packs   map[string]int64
	credits *service.CreditService
	logger  *slog.Logger
}

// NewStripeWebhookHandler creates a new Stripe webhook handler.
// packs maps Stripe price IDs to the credits they grant.
func NewStripeWebhookHandler(apiKey, secret string, packs map[string]int64, credits *service.CreditService, logger *slog.Logger) *StripeWebhookHandler {
	if apiKey != "" {
		stripe.Key = apiKey
	}
	return &StripeWebhookHandler{
		secret:  secret,
		packs:   packs,
		credits: credits,
		logger:  logger,
	}
}

// HandleWebhook processes incoming Stripe webhooks.
// This is a raw HTTP handler since huma doesn't handle raw body verification well.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.logger.Warn("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.handleEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to handle webhook event", "type", event.Type, "error", err)
		// Ledger writes are idempotent per payment, so let Stripe retry
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleEvent routes events to appropriate handlers.
func (h *StripeWebhookHandler) handleEvent(ctx context.Context, event stripe.Event) error {
	h.logger.Info("received Stripe webhook", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return h.handleCheckoutPaid(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}
}

// handleCheckoutPaid credits a recharge pack once per payment.
func (h *StripeWebhookHandler) handleCheckoutPaid(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.logger.Info("checkout not paid yet", "session_id", session.ID, "payment_status", session.PaymentStatus)
		return nil
	}

	userID := session.Metadata["clerk_user_id"]
	if userID == "" {
		h.logger.Warn("checkout session missing clerk_user_id", "session_id", session.ID)
		return nil
	}

	credits := h.creditsFor(&session)
	if credits <= 0 {
		h.logger.Warn("checkout session has no recognised credit pack", "session_id", session.ID)
		return nil
	}

	reference := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		reference = session.PaymentIntent.ID
	}

	if _, err := h.credits.EnsureAccount(ctx, userID, ""); err != nil {
		return err
	}
	acct, err := h.credits.Credit(ctx, userID, credits, models.SourceRecharge, reference)
	if err != nil {
		return fmt.Errorf("failed to credit recharge: %w", err)
	}

	h.logger.Info("recharge credited",
		"user_id", userID,
		"credits", credits,
		"payment_id", reference,
		"balance", acct.Balance,
	)
	return nil
}

// creditsFor resolves the credits bought in a session: expanded line items
// first, then the price_id and credits metadata set at checkout creation.
func (h *StripeWebhookHandler) creditsFor(session *stripe.CheckoutSession) int64 {
	var total int64
	if session.LineItems != nil {
		for _, item := range session.LineItems.Data {
			if item.Price == nil {
				continue
			}
			qty := max(item.Quantity, 1)
			total += h.packs[item.Price.ID] * qty
		}
	}
	if total > 0 {
		return total
	}

	if n, ok := h.packs[session.Metadata["price_id"]]; ok {
		return n
	}
	if n, err := strconv.ParseInt(session.Metadata["credits"], 10, 64); err == nil && n > 0 {
		return n
	}
	return 0
}
