package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/interfaces"
	"listing-sync-service/internal/locks"
	"listing-sync-service/internal/models"
)

// SyncService handles the API-side business logic: accepting jobs into the
// queue, serving unit availability cache-first, and lock administration
type SyncService struct {
	jobs     interfaces.JobRepository
	units    interfaces.UnitRepository
	cache    interfaces.CacheRepository
	locks    *locks.Manager
	validate *validator.Validate
	config   ServiceConfig
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	DefaultMaxRetries int
	LockTimeout       time.Duration
	CacheTimeout      time.Duration // Timeout for async cache writes
}

// Validate validates the service configuration
func (c ServiceConfig) Validate() error {
	if c.DefaultMaxRetries < 0 {
		return fmt.Errorf("default max retries must not be negative, got %d", c.DefaultMaxRetries)
	}
	if c.LockTimeout < time.Minute {
		return fmt.Errorf("lock timeout must be at least 1 minute, got %v", c.LockTimeout)
	}
	if c.CacheTimeout < time.Millisecond {
		return fmt.Errorf("cache timeout must be at least 1ms, got %v", c.CacheTimeout)
	}
	return nil
}

// NewSyncService creates a new sync service with dependency injection and validation
func NewSyncService(
	jobs interfaces.JobRepository,
	units interfaces.UnitRepository,
	cache interfaces.CacheRepository,
	lockMgr *locks.Manager,
	config ServiceConfig,
) (*SyncService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}

	return &SyncService{
		jobs:     jobs,
		units:    units,
		cache:    cache,
		locks:    lockMgr,
		validate: validator.New(),
		config:   config,
	}, nil
}

// EnqueueJob validates a listing mutation request and appends it to the
// durable queue. The payload is decoded against the action's schema at
// enqueue time so the queue never carries undecodable work.
func (s *SyncService) EnqueueJob(ctx context.Context, req *models.EnqueueJobRequest) (*models.EnqueueJobResponse, error) {
	if err := s.validateJobRequest(req); err != nil {
		return nil, err
	}

	maxRetries := s.config.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	job := &models.SyncJob{
		ID:         uuid.New(),
		Action:     req.Action,
		SKU:        req.SKU,
		StoreKey:   req.StoreKey,
		AccountRef: req.AccountRef,
		Payload:    req.Payload,
		MaxRetries: maxRetries,
	}

	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return &models.EnqueueJobResponse{
		JobID:         job.ID,
		Status:        job.Status,
		QueuePosition: job.QueuePosition,
		Message:       "Job accepted",
	}, nil
}

// GetJob retrieves a job's current state by ID
func (s *SyncService) GetJob(ctx context.Context, jobID uuid.UUID) (*models.SyncJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetAvailability returns a unit's source-of-truth state, checking the cache
// first and repopulating it asynchronously on a miss
func (s *SyncService) GetAvailability(ctx context.Context, sku, storeKey string) (*models.AvailabilityResponse, error) {
	unit, err := s.cache.GetUnit(ctx, sku, storeKey)
	if err == nil && unit != nil {
		return buildAvailabilityResponse(unit, true), nil
	}
	if err != nil {
		log.Debug().Err(err).Str("sku", sku).Msg("Cache unavailable for availability read, falling back to database")
	}

	unit, err = s.units.GetUnit(ctx, sku, storeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	if unit == nil {
		return nil, nil
	}

	// Repopulate cache off the request path
	snapshot := *unit
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), s.config.CacheTimeout)
		defer cancel()
		if err := s.cache.SetUnit(cacheCtx, &snapshot); err != nil {
			log.Error().Err(err).Str("sku", snapshot.SKU).Msg("Failed to cache unit snapshot")
		}
	}()

	return buildAvailabilityResponse(unit, false), nil
}

// AcquireLocks locks a batch of SKUs on behalf of an external workflow
// (bulk transfer, recount, manual adjustment). Partial acquisition is
// reported, not rolled back.
func (s *SyncService) AcquireLocks(ctx context.Context, req *models.AcquireLocksRequest) (*models.AcquireResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid lock request: %w", err)
	}

	timeout := s.config.LockTimeout
	if req.TimeoutMinutes > 0 {
		timeout = time.Duration(req.TimeoutMinutes) * time.Minute
	}

	return s.locks.Acquire(ctx, req.Skus, req.StoreKey, req.LockType, req.LockedBy, timeout, req.Context)
}

// ReleaseBatch releases every lock created by one acquire call
func (s *SyncService) ReleaseBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	return s.locks.ReleaseByBatch(ctx, batchID)
}

// ReleaseSkus releases locks for individual SKUs in a store
func (s *SyncService) ReleaseSkus(ctx context.Context, skus []string, storeKey string) (int, error) {
	return s.locks.ReleaseBySkus(ctx, skus, storeKey)
}

// CheckLocks reports the lock state of the requested SKUs
func (s *SyncService) CheckLocks(ctx context.Context, skus []string, storeKey string) ([]models.LockStatus, error) {
	return s.locks.CheckLocks(ctx, skus, storeKey)
}

// validateJobRequest checks the envelope and decodes the payload against the
// schema the action requires
func (s *SyncService) validateJobRequest(req *models.EnqueueJobRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid job request: %w", err)
	}
	if !req.Action.Valid() {
		return fmt.Errorf("unsupported action %q", req.Action)
	}
	if req.MaxRetries != nil && *req.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", *req.MaxRetries)
	}

	switch req.Action {
	case models.ActionCreate:
		var payload models.CreateListingPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return fmt.Errorf("invalid create payload: %w", err)
		}
		if err := s.validate.Struct(&payload); err != nil {
			return fmt.Errorf("invalid create payload: %w", err)
		}
	case models.ActionUpdate:
		var payload models.UpdateListingPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return fmt.Errorf("invalid update payload: %w", err)
		}
		if err := s.validate.Struct(&payload); err != nil {
			return fmt.Errorf("invalid update payload: %w", err)
		}
		if payload.Title == nil && payload.Price == nil && payload.Quantity == nil {
			return fmt.Errorf("update payload must change at least one field")
		}
	case models.ActionDelete:
		var payload models.DeleteListingPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return fmt.Errorf("invalid delete payload: %w", err)
		}
		if err := s.validate.Struct(&payload); err != nil {
			return fmt.Errorf("invalid delete payload: %w", err)
		}
	}

	return nil
}

func buildAvailabilityResponse(unit *models.InventoryUnit, cacheHit bool) *models.AvailabilityResponse {
	return &models.AvailabilityResponse{
		SKU:          unit.SKU,
		StoreKey:     unit.StoreKey,
		Status:       unit.Status,
		QuantityHint: unit.QuantityHint,
		Graded:       unit.IsGraded(),
		CacheHit:     cacheHit,
		LastUpdated:  unit.UpdatedAt,
	}
}
