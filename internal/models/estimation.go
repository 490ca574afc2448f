package models

import "time"

// ========================================
// Estimations
// ========================================

// Condition is the physical condition of the item being priced.
type Condition string

const (
	ConditionNew       Condition = "neuf"
	ConditionLikeNew   Condition = "comme-neuf"
	ConditionGood      Condition = "bon"
	ConditionForRepair Condition = "a-reparer"
)

// Badge is the qualitative recommendation attached to a result.
type Badge string

const (
	BadgeGood    Badge = "good"
	BadgeCaution Badge = "caution"
	BadgeRisk    Badge = "risk"
)

// EstimationRequest is a priced request for a resale estimation.
type EstimationRequest struct {
	ModelID       string    `json:"model_id" validate:"required,max=128"`
	Condition     Condition `json:"condition" validate:"required,oneof=neuf comme-neuf bon a-reparer"`
	BuyPriceInput float64   `json:"buy_price_input" validate:"gt=0"`
	Region        string    `json:"region,omitempty" validate:"omitempty,max=64"`
	AdvancedMode  bool      `json:"advanced_mode"`
}

// PricePoint is one point of a price series.
type PricePoint struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Price float64 `json:"price"`
}

// EstimationResult is the computed estimation. Gated fields are nil when the
// requesting plan may not see them; Masked lists which ones.
type EstimationResult struct {
	ID            string    `json:"id"`
	ModelID       string    `json:"model_id"`
	Condition     Condition `json:"condition"`
	BuyPriceInput float64   `json:"buy_price_input"`
	Region        string    `json:"region,omitempty"`
	AdvancedMode  bool      `json:"advanced_mode"`

	// Always visible
	MarketMedianPrice float64 `json:"market_median_price"`
	Variation30dPct   float64 `json:"variation_30d_pct"`
	VolumeActive      int     `json:"volume_active"`
	CreditCost        int64   `json:"credit_cost"`

	// Plan-gated
	BuyPriceRecommended *float64     `json:"buy_price_recommended"`
	SellPrice1m         *float64     `json:"sell_price_1m"`
	MarginPct           *float64     `json:"margin_pct"`
	ResellProbability   *float64     `json:"resell_probability"`
	Trend90d            []PricePoint `json:"trend_90d"`
	Volume30d           []int        `json:"volume_30d"`
	Badge               *Badge       `json:"badge"`

	Masked    []string  `json:"masked,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EstimationRecord is a stored estimation in a user's history.
type EstimationRecord struct {
	ID             string
	UserID         string
	ModelID        string
	IdempotencyKey string
	CreditCost     int64
	Result         EstimationResult // unmasked
	CreatedAt      time.Time
}

// ========================================
// Market Observations
// ========================================

// MarketObservation is a single listing seen by a collector.
type MarketObservation struct {
	ID         string    `json:"id"`
	ModelID    string    `json:"model_id"`
	Platform   string    `json:"platform"`
	Region     string    `json:"region,omitempty"`
	Condition  Condition `json:"condition"`
	Price      float64   `json:"price"`
	Sold       bool      `json:"sold"`
	ObservedAt time.Time `json:"observed_at"`
}
