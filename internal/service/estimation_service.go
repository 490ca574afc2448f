package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/metrics"
	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/repository"
)

// errKeyReplay aborts an estimation transaction whose idempotency key was
// bound by a concurrent request.
var errKeyReplay = errors.New("idempotency key already bound")

// ExportStore persists export files. *StorageService satisfies it.
type ExportStore interface {
	IsEnabled() bool
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// EstimationService is the gateway to the estimation engine. It checks the
// plan and balance, debits exactly once per produced result, and masks every
// response to the caller's capabilities.
type EstimationService struct {
	repos        *repository.Repositories
	credits      *CreditService
	entitlements *EntitlementService
	store        ExportStore
	dedupeWindow time.Duration
	exportExpiry time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// EstimationServiceConfig holds tunables for the estimation service.
type EstimationServiceConfig struct {
	DedupeWindow time.Duration
	ExportExpiry time.Duration
}

// NewEstimationService creates a new estimation service.
func NewEstimationService(repos *repository.Repositories, credits *CreditService, entitlements *EntitlementService, store ExportStore, cfg EstimationServiceConfig, logger *slog.Logger) *EstimationService {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = constants.DefaultEstimationDedupeWindow
	}
	if cfg.ExportExpiry <= 0 {
		cfg.ExportExpiry = 15 * time.Minute
	}
	return &EstimationService{
		repos:        repos,
		credits:      credits,
		entitlements: entitlements,
		store:        store,
		dedupeWindow: cfg.DedupeWindow,
		exportExpiry: cfg.ExportExpiry,
		logger:       logger.With("component", "estimations"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Estimate runs an estimation for userID on plan. On success exactly one
// debit of the plan's estimation cost has been committed together with the
// history row. On any failure nothing is debited or stored.
//
// A non-empty idemKey replays the stored result, without debiting, when the
// same user sends the same key within the dedupe window.
func (s *EstimationService) Estimate(ctx context.Context, userID, plan string, req models.EstimationRequest, idemKey string) (*models.EstimationResult, error) {
	if err := validateStruct(req); err != nil {
		metrics.RecordEstimation("invalid")
		return nil, err
	}

	ent := constants.Resolve(plan)
	now := s.now()

	// A replay was paid for by the original request.
	if idemKey != "" {
		if replay, err := s.replay(ctx, userID, idemKey, req, ent, now); err != nil || replay != nil {
			return replay, err
		}
	}

	acct, err := s.repos.Credit.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if err := s.entitlements.CheckEstimator(plan, acct, req.AdvancedMode); err != nil {
		metrics.RecordEstimation(estimationOutcome(err))
		return nil, err
	}

	obs, err := s.repos.Market.ListForModel(ctx, req.ModelID, req.Region, now.Add(-estimationLookback))
	if err != nil {
		return nil, fmt.Errorf("failed to load market data: %w", err)
	}
	if len(obs) == 0 {
		metrics.RecordEstimation("model_not_found")
		return nil, ErrModelNotFound
	}

	result := computeEstimation(req, obs, now)
	result.ID = ulid.Make().String()
	result.CreditCost = ent.Limits.EstimationCreditCost
	result.CreatedAt = now

	var debit *models.LedgerEntry
	err = s.repos.RunInTx(ctx, func(tx *repository.Repositories) error {
		if idemKey != "" {
			ok, err := tx.Estimation.ReserveKey(ctx, userID, idemKey, result.ID, now.Add(s.dedupeWindow), now)
			if err != nil {
				return fmt.Errorf("failed to reserve idempotency key: %w", err)
			}
			if !ok {
				return errKeyReplay
			}
		}

		if result.CreditCost > 0 {
			var err error
			debit, err = s.credits.debitTx(ctx, tx, userID, result.CreditCost, "estimation "+req.ModelID, result.ID)
			if err != nil {
				return err
			}
		}

		return tx.Estimation.Create(ctx, &models.EstimationRecord{
			ID:             result.ID,
			UserID:         userID,
			ModelID:        req.ModelID,
			IdempotencyKey: idemKey,
			CreditCost:     result.CreditCost,
			Result:         result,
			CreatedAt:      now,
		})
	})
	if errors.Is(err, errKeyReplay) {
		replay, err := s.replay(ctx, userID, idemKey, req, ent, now)
		if err == nil && replay == nil {
			err = ErrLedgerConflict
		}
		return replay, err
	}
	if err != nil {
		metrics.RecordEstimation(estimationOutcome(err))
		return nil, err
	}

	s.credits.record(debit)
	metrics.RecordEstimation("debited")
	s.logger.Info("estimation produced", "user_id", userID, "estimation_id", result.ID, "model_id", req.ModelID, "cost", result.CreditCost)

	masked := maskResult(result, ent.Capabilities)
	return &masked, nil
}

// replay returns the stored result bound to a live idempotency key, or nil.
// The key must come with the request it was first used for.
func (s *EstimationService) replay(ctx context.Context, userID, idemKey string, req models.EstimationRequest, ent constants.PlanEntitlements, now time.Time) (*models.EstimationResult, error) {
	id, err := s.repos.Estimation.LookupKey(ctx, userID, idemKey, now)
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	if id == "" {
		return nil, nil
	}
	rec, err := s.repos.Estimation.GetByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load estimation: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	if !sameRequest(rec.Result, req) {
		metrics.RecordEstimation("key_reused")
		return nil, ErrIdempotencyKeyReused
	}

	metrics.RecordEstimation("replayed")
	s.logger.Info("estimation replayed", "user_id", userID, "estimation_id", id)
	masked := maskResult(rec.Result, ent.Capabilities)
	return &masked, nil
}

func sameRequest(r models.EstimationResult, req models.EstimationRequest) bool {
	return r.ModelID == req.ModelID &&
		r.Condition == req.Condition &&
		r.BuyPriceInput == req.BuyPriceInput &&
		r.Region == req.Region &&
		r.AdvancedMode == req.AdvancedMode
}

// History returns a page of the user's estimations, newest first, masked with
// the caller's current plan.
func (s *EstimationService) History(ctx context.Context, userID, plan string, page, pageSize int) ([]models.EstimationResult, int, error) {
	if pageSize <= 0 || pageSize > constants.MaxEstimationPageSize {
		pageSize = constants.MaxEstimationPageSize
	}
	if page < 1 {
		page = 1
	}

	records, err := s.repos.Estimation.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list estimations: %w", err)
	}
	total, err := s.repos.Estimation.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count estimations: %w", err)
	}

	caps := constants.Resolve(plan).Capabilities
	out := make([]models.EstimationResult, 0, len(records))
	for _, rec := range records {
		out = append(out, maskResult(rec.Result, caps))
	}
	return out, total, nil
}

// ExportResult is either a download URL or inline CSV when storage is off.
type ExportResult struct {
	Filename  string     `json:"filename"`
	URL       string     `json:"url,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CSV       string     `json:"csv,omitempty"`
}

// Export renders an estimation as CSV. Only plans granting export may call it.
func (s *EstimationService) Export(ctx context.Context, userID, plan, estimationID string) (*ExportResult, error) {
	ent := constants.Resolve(plan)
	if !ent.Capabilities.CanExportEstimation {
		return nil, ErrExportRestricted
	}

	rec, err := s.repos.Estimation.GetByID(ctx, userID, estimationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load estimation: %w", err)
	}
	if rec == nil {
		return nil, ErrEstimationNotFound
	}

	data, err := renderCSV(maskResult(rec.Result, ent.Capabilities))
	if err != nil {
		return nil, fmt.Errorf("failed to render export: %w", err)
	}

	out := &ExportResult{Filename: fmt.Sprintf("estimation-%s.csv", estimationID)}
	if s.store == nil || !s.store.IsEnabled() {
		out.CSV = string(data)
		return out, nil
	}

	key := ExportKey(userID, estimationID)
	if err := s.store.PutObject(ctx, key, data, "text/csv"); err != nil {
		return nil, err
	}
	url, err := s.store.PresignGet(ctx, key, s.exportExpiry)
	if err != nil {
		return nil, err
	}
	exp := s.now().Add(s.exportExpiry)
	out.URL = url
	out.ExpiresAt = &exp

	s.logger.Info("estimation exported", "user_id", userID, "estimation_id", estimationID, "key", key)
	return out, nil
}

// ObservationInput is a market listing reported by the backend.
type ObservationInput struct {
	ID         string           `json:"id,omitempty" validate:"omitempty,max=64"`
	ModelID    string           `json:"model_id" validate:"required,max=128"`
	Platform   string           `json:"platform" validate:"required,max=64"`
	Region     string           `json:"region,omitempty" validate:"omitempty,max=64"`
	Condition  models.Condition `json:"condition" validate:"required,oneof=neuf comme-neuf bon a-reparer"`
	Price      float64          `json:"price" validate:"gt=0"`
	Sold       bool             `json:"sold"`
	ObservedAt time.Time        `json:"observed_at" validate:"required"`
}

// IngestObservations validates and stores market observations. Observations
// that reuse an existing ID are skipped.
func (s *EstimationService) IngestObservations(ctx context.Context, inputs []ObservationInput) (int, error) {
	obs := make([]*models.MarketObservation, 0, len(inputs))
	for _, in := range inputs {
		if err := validateStruct(in); err != nil {
			return 0, err
		}
		id := in.ID
		if id == "" {
			id = ulid.Make().String()
		}
		obs = append(obs, &models.MarketObservation{
			ID:         id,
			ModelID:    in.ModelID,
			Platform:   in.Platform,
			Region:     in.Region,
			Condition:  in.Condition,
			Price:      in.Price,
			Sold:       in.Sold,
			ObservedAt: in.ObservedAt.UTC(),
		})
	}

	err := s.repos.RunInTx(ctx, func(tx *repository.Repositories) error {
		return tx.Market.Insert(ctx, obs)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to ingest observations: %w", err)
	}

	s.logger.Info("market observations ingested", "count", len(obs))
	return len(obs), nil
}

// PruneKeys drops expired idempotency bindings.
func (s *EstimationService) PruneKeys(ctx context.Context, now time.Time) (int64, error) {
	return s.repos.Estimation.PruneKeys(ctx, now)
}

// renderCSV writes a field,value table. Masked fields are omitted.
func renderCSV(r models.EstimationResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"field", "value"},
		{"id", r.ID},
		{"model_id", r.ModelID},
		{"condition", string(r.Condition)},
		{"buy_price_input", formatFloat(r.BuyPriceInput)},
		{"region", r.Region},
		{"market_median_price", formatFloat(r.MarketMedianPrice)},
		{"variation_30d_pct", formatFloat(r.Variation30dPct)},
		{"volume_active", strconv.Itoa(r.VolumeActive)},
		{"credit_cost", strconv.FormatInt(r.CreditCost, 10)},
		{"created_at", r.CreatedAt.UTC().Format(time.RFC3339)},
	}
	optional := []struct {
		name  string
		value *float64
	}{
		{"buy_price_recommended", r.BuyPriceRecommended},
		{"sell_price_1m", r.SellPrice1m},
		{"margin_pct", r.MarginPct},
		{"resell_probability", r.ResellProbability},
	}
	for _, o := range optional {
		if o.value != nil {
			rows = append(rows, []string{o.name, formatFloat(*o.value)})
		}
	}
	if r.Badge != nil {
		rows = append(rows, []string{"badge", string(*r.Badge)})
	}
	for _, p := range r.Trend90d {
		rows = append(rows, []string{"trend_90d:" + p.Date, formatFloat(p.Price)})
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func estimationOutcome(err error) string {
	switch {
	case errors.Is(err, ErrPlanRestricted):
		return "plan_restricted"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrModelNotFound):
		return "model_not_found"
	default:
		return "error"
	}
}
