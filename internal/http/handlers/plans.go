package handlers

import (
	"context"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
)

// ListPlansOutput represents the public plan table.
type ListPlansOutput struct {
	Body struct {
		Plans []EntitlementsView `json:"plans"`
	}
}

// ListPlans returns every plan in display order.
func ListPlans(ctx context.Context, input *struct{}) (*ListPlansOutput, error) {
	plans := constants.AllPlans()
	out := &ListPlansOutput{}
	out.Body.Plans = make([]EntitlementsView, 0, len(plans))
	for _, ent := range plans {
		out.Body.Plans = append(out.Body.Plans, newEntitlementsView(ent))
	}
	return out, nil
}
