// Package service contains the business logic layer.
// Note: User management, sessions and subscriptions are handled by Clerk.
// The UserID in services references Clerk user IDs (e.g., "user_xxx").
package service

import (
	"fmt"
	"log/slog"

	"github.com/jmylchreest/flipdeck-api/internal/auth"
	"github.com/jmylchreest/flipdeck-api/internal/config"
	"github.com/jmylchreest/flipdeck-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Credits      *CreditService
	Entitlements *EntitlementService
	Community    *CommunityService
	Estimations  *EstimationService
	Storage      *StorageService
	UploadTokens *auth.UploadTokenIssuer
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, logger *slog.Logger) (*Services, error) {
	// Storage first: exports and runtime config both read through it
	storageSvc, err := NewStorageService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	if len(cfg.UploadTokenKey) == 0 {
		return nil, fmt.Errorf("upload token key not configured")
	}
	tokens := auth.NewUploadTokenIssuer(cfg.UploadTokenKey, cfg.UploadTokenTTL)

	creditSvc := NewCreditService(repos, logger)
	entitlementSvc := NewEntitlementService()
	communitySvc := NewCommunityService(repos, creditSvc, tokens, cfg.JobExpiryWindow, logger)
	estimationSvc := NewEstimationService(repos, creditSvc, entitlementSvc, storageSvc, EstimationServiceConfig{
		DedupeWindow: cfg.EstimationDedupeWindow,
		ExportExpiry: cfg.ExportURLExpiry,
	}, logger)

	return &Services{
		Credits:      creditSvc,
		Entitlements: entitlementSvc,
		Community:    communitySvc,
		Estimations:  estimationSvc,
		Storage:      storageSvc,
		UploadTokens: tokens,
	}, nil
}
