package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/service"
)

// ClerkWebhookHandler handles Clerk webhook events.
type ClerkWebhookHandler struct {
	secret  string
	credits *service.CreditService
	logger  *slog.Logger
}

// NewClerkWebhookHandler creates a new Clerk webhook handler.
func NewClerkWebhookHandler(secret string, credits *service.CreditService, logger *slog.Logger) *ClerkWebhookHandler {
	return &ClerkWebhookHandler{
		secret:  secret,
		credits: credits,
		logger:  logger,
	}
}

// ClerkWebhookEvent represents a Clerk webhook event.
type ClerkWebhookEvent struct {
	Type   string          `json:"type"`
	Object string          `json:"object"`
	Data   json.RawMessage `json:"data"`
}

// UserData is the subset of a Clerk user object we read.
type UserData struct {
	ID             string         `json:"id"`
	Deleted        bool           `json:"deleted,omitempty"`
	PublicMetadata map[string]any `json:"public_metadata,omitempty"`
}

// SubscriptionItemData represents subscription (item) data from Clerk billing.
type SubscriptionItemData struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	PlanID   string `json:"plan_id"`
	PlanName string `json:"plan_name,omitempty"`
	PlanSlug string `json:"plan_slug,omitempty"`
}

// HandleWebhook processes incoming Clerk webhooks.
func (h *ClerkWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Verify webhook signature using Svix
	headers := http.Header{}
	headers.Set("svix-id", r.Header.Get("svix-id"))
	headers.Set("svix-timestamp", r.Header.Get("svix-timestamp"))
	headers.Set("svix-signature", r.Header.Get("svix-signature"))

	wh, err := svix.NewWebhook(h.secret)
	if err != nil {
		h.logger.Error("failed to create webhook verifier", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := wh.Verify(payload, headers); err != nil {
		h.logger.Warn("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var event ClerkWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("failed to parse webhook event", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.handleEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to handle webhook event", "type", event.Type, "error", err)
		// Return 200 to prevent retries for business logic errors
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleEvent routes events to appropriate handlers.
func (h *ClerkWebhookHandler) handleEvent(ctx context.Context, event ClerkWebhookEvent) error {
	h.logger.Info("received Clerk webhook", "type", event.Type)

	switch event.Type {
	case "user.created":
		return h.handleUserCreated(ctx, event.Data)

	case "subscription.active", "subscriptionItem.active", "subscriptionItem.updated":
		return h.handlePlanActive(ctx, event.Data)

	case "subscriptionItem.canceled", "subscriptionItem.ended":
		return h.handlePlanEnded(ctx, event.Data)

	case "user.deleted":
		return h.handleUserDeleted(ctx, event.Data)

	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}
}

// handleUserCreated opens the credit account with the signup allotment.
func (h *ClerkWebhookHandler) handleUserCreated(ctx context.Context, data json.RawMessage) error {
	var user UserData
	if err := json.Unmarshal(data, &user); err != nil {
		return err
	}
	if user.ID == "" {
		h.logger.Warn("user.created event missing user id")
		return nil
	}

	plan, _ := user.PublicMetadata["plan"].(string)
	acct, err := h.credits.EnsureAccount(ctx, user.ID, plan)
	if err != nil {
		return err
	}

	h.logger.Info("credit account ready", "user_id", user.ID, "plan", acct.Plan, "balance", acct.Balance)
	return nil
}

// handlePlanActive records the subscribed plan. The balance is untouched;
// the new allotment applies from the next reset.
func (h *ClerkWebhookHandler) handlePlanActive(ctx context.Context, data json.RawMessage) error {
	var item SubscriptionItemData
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	if item.UserID == "" {
		h.logger.Warn("subscription missing user_id", "item_id", item.ID)
		return nil
	}
	if item.Status != "" && item.Status != "active" {
		h.logger.Debug("ignoring inactive subscription item", "item_id", item.ID, "status", item.Status)
		return nil
	}

	plan := planFromClerk(item.PlanSlug, item.PlanID, item.PlanName)
	if _, err := h.credits.EnsureAccount(ctx, item.UserID, string(plan)); err != nil {
		return err
	}
	return h.credits.SetPlan(ctx, item.UserID, string(plan))
}

// handlePlanEnded drops the user back to starter. Remaining credits are kept
// until the next reset.
func (h *ClerkWebhookHandler) handlePlanEnded(ctx context.Context, data json.RawMessage) error {
	var item SubscriptionItemData
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	if item.UserID == "" {
		h.logger.Warn("subscription end missing user_id", "item_id", item.ID)
		return nil
	}
	return h.credits.SetPlan(ctx, item.UserID, string(constants.PlanStarter))
}

// handleUserDeleted hides the account. Ledger history is retained.
func (h *ClerkWebhookHandler) handleUserDeleted(ctx context.Context, data json.RawMessage) error {
	var user UserData
	if err := json.Unmarshal(data, &user); err != nil {
		return err
	}
	if user.ID == "" {
		h.logger.Warn("user.deleted event missing user id")
		return nil
	}
	return h.credits.MarkDeleted(ctx, user.ID)
}

// planFromClerk maps Clerk plan identifiers to a plan, preferring the slug.
func planFromClerk(slug, id, name string) constants.Plan {
	for _, candidate := range []string{slug, id, name} {
		c := strings.ToLower(candidate)
		switch {
		case c == "":
			continue
		case strings.Contains(c, string(constants.PlanElite)):
			return constants.PlanElite
		case strings.Contains(c, string(constants.PlanPro)):
			return constants.PlanPro
		case strings.Contains(c, string(constants.PlanStarter)):
			return constants.PlanStarter
		}
	}
	return constants.PlanStarter
}
