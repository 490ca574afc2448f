package service

import (
	"math"
	"slices"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/models"
)

const (
	// estimationLookback is how far back observations feed an estimation.
	estimationLookback = 90 * 24 * time.Hour
	// targetMargin is the margin the recommended buy price leaves on resale.
	targetMargin = 0.25
	// maxMonthlyDrift caps how far the trend moves the one-month sell price.
	maxMonthlyDrift = 0.15
	oneDay          = 24 * time.Hour
)

// conditionFactor scales a new-condition price to the given condition.
func conditionFactor(c models.Condition) float64 {
	switch c {
	case models.ConditionNew:
		return 1.0
	case models.ConditionLikeNew:
		return 0.92
	case models.ConditionGood:
		return 0.8
	case models.ConditionForRepair:
		return 0.55
	}
	return 1.0
}

// computeEstimation derives a full, unmasked result from market observations.
// Prices are normalised to new condition before aggregation and scaled back to
// the requested condition.
func computeEstimation(req models.EstimationRequest, obs []*models.MarketObservation, now time.Time) models.EstimationResult {
	factor := conditionFactor(req.Condition)

	var last30, recent15, prior15, active []float64
	var sold30 int
	for _, o := range obs {
		age := now.Sub(o.ObservedAt)
		price := o.Price / conditionFactor(o.Condition) * factor
		if age <= 30*oneDay {
			last30 = append(last30, price)
			if o.Sold {
				sold30++
			} else {
				active = append(active, price)
			}
			if age <= 15*oneDay {
				recent15 = append(recent15, price)
			} else {
				prior15 = append(prior15, price)
			}
		}
	}

	all := make([]float64, 0, len(obs))
	for _, o := range obs {
		all = append(all, o.Price/conditionFactor(o.Condition)*factor)
	}

	// Fall back to wider windows when recent data is thin
	median := medianOf(active)
	if len(active) == 0 {
		median = medianOf(last30)
	}
	if len(last30) == 0 {
		median = medianOf(all)
	}

	variation := 0.0
	if len(recent15) > 0 && len(prior15) > 0 {
		if prior := medianOf(prior15); prior > 0 {
			variation = (medianOf(recent15) - prior) / prior * 100
		}
	}

	drift := math.Max(-maxMonthlyDrift, math.Min(maxMonthlyDrift, variation/100))
	sell := median * (1 + drift)
	buy := sell * (1 - targetMargin)

	margin := 0.0
	if sell > 0 {
		margin = (sell - req.BuyPriceInput) / sell * 100
	}

	sellThrough := 0.0
	if len(last30) > 0 {
		sellThrough = float64(sold30) / float64(len(last30))
	}
	probability := resellProbability(sold30, sellThrough)

	badge := badgeFor(margin, probability)

	return models.EstimationResult{
		ModelID:             req.ModelID,
		Condition:           req.Condition,
		BuyPriceInput:       req.BuyPriceInput,
		Region:              req.Region,
		AdvancedMode:        req.AdvancedMode,
		MarketMedianPrice:   round2(median),
		Variation30dPct:     round1(variation),
		VolumeActive:        len(active),
		BuyPriceRecommended: ptr(round2(buy)),
		SellPrice1m:         ptr(round2(sell)),
		MarginPct:           ptr(round1(margin)),
		ResellProbability:   ptr(round2(probability)),
		Trend90d:            weeklyTrend(obs, now, factor),
		Volume30d:           dailyVolume(obs, now),
		Badge:               &badge,
	}
}

// resellProbability is a logistic score over sold volume and sell-through.
func resellProbability(sold30 int, sellThrough float64) float64 {
	x := 0.9*math.Log1p(float64(sold30)) + 2*sellThrough - 2
	p := 1 / (1 + math.Exp(-x))
	return math.Max(0.01, math.Min(0.99, p))
}

func badgeFor(marginPct, probability float64) models.Badge {
	switch {
	case marginPct >= 20 && probability >= 0.6:
		return models.BadgeGood
	case marginPct < 5 || probability < 0.3:
		return models.BadgeRisk
	default:
		return models.BadgeCaution
	}
}

// weeklyTrend returns one median point per week with data, oldest first.
func weeklyTrend(obs []*models.MarketObservation, now time.Time, factor float64) []models.PricePoint {
	const weeks = 13
	buckets := make([][]float64, weeks)
	for _, o := range obs {
		w := int(now.Sub(o.ObservedAt) / (7 * oneDay))
		if w < 0 || w >= weeks {
			continue
		}
		buckets[w] = append(buckets[w], o.Price/conditionFactor(o.Condition)*factor)
	}

	points := make([]models.PricePoint, 0, weeks)
	for w := weeks - 1; w >= 0; w-- {
		if len(buckets[w]) == 0 {
			continue
		}
		start := now.Add(-time.Duration(w+1) * 7 * oneDay)
		points = append(points, models.PricePoint{
			Date:  start.Format("2006-01-02"),
			Price: round2(medianOf(buckets[w])),
		})
	}
	return points
}

// dailyVolume counts observations per day over the last 30 days, oldest first.
func dailyVolume(obs []*models.MarketObservation, now time.Time) []int {
	counts := make([]int, 30)
	for _, o := range obs {
		d := int(now.Sub(o.ObservedAt) / oneDay)
		if d < 0 || d >= 30 {
			continue
		}
		counts[29-d]++
	}
	return counts
}

// maskResult returns a copy of r with every field the capabilities do not
// grant cleared, and lists the cleared fields in Masked.
func maskResult(r models.EstimationResult, caps constants.Capabilities) models.EstimationResult {
	out := r
	out.Masked = nil

	if !caps.CanSeeBuyPrice {
		out.BuyPriceRecommended = nil
		out.Masked = append(out.Masked, "buy_price_recommended")
	}
	if !caps.CanSeeSellPrice {
		out.SellPrice1m = nil
		out.Masked = append(out.Masked, "sell_price_1m")
	}
	if !caps.CanSeeMargin {
		out.MarginPct = nil
		out.Badge = nil
		out.Masked = append(out.Masked, "margin_pct", "badge")
	}
	if !caps.CanSeeProbability {
		out.ResellProbability = nil
		out.Masked = append(out.Masked, "resell_probability")
	}
	if !caps.CanSeeTrend {
		out.Trend90d = nil
		out.Volume30d = nil
		out.Masked = append(out.Masked, "trend_90d", "volume_30d")
	}
	return out
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

func ptr[T any](v T) *T { return &v }
