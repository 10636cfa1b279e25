package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/interfaces"
	"listing-sync-service/internal/locks"
	"listing-sync-service/internal/models"
	"listing-sync-service/internal/stock"
)

// StockAPIFactory builds a stock-level client bound to an account session.
// Tokens are short-lived, so the client is constructed per operation.
type StockAPIFactory func(token string) interfaces.StockLevelAPI

// StockService applies manual corrections to external marketplace stock
// levels. Every write runs under a manual_adjustment lock on the SKU and
// goes through the safe writer's optimistic read-check-write path.
type StockService struct {
	locks       *locks.Manager
	tokens      interfaces.TokenProvider
	factory     StockAPIFactory
	env         string
	lockTimeout time.Duration
}

// NewStockService creates a stock correction service
func NewStockService(lockMgr *locks.Manager, tokens interfaces.TokenProvider, factory StockAPIFactory, env string, lockTimeout time.Duration) *StockService {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Minute
	}
	return &StockService{
		locks:       lockMgr,
		tokens:      tokens,
		factory:     factory,
		env:         env,
		lockTimeout: lockTimeout,
	}
}

// Adjust applies a delta-based stock correction. The SKU is locked for the
// duration of the write so the reconciler cannot race the correction.
func (s *StockService) Adjust(ctx context.Context, req *models.AdjustStockRequest) (*models.StockWriteResult, error) {
	if req.Delta == 0 {
		return nil, fmt.Errorf("delta must not be zero")
	}
	return s.withLockedWriter(ctx, req, func(w *stock.SafeWriter) *models.StockWriteResult {
		return w.Adjust(ctx, req.Delta, req.ExpectedAvailable)
	})
}

// Set applies an absolute stock correction with the same optimistic check
func (s *StockService) Set(ctx context.Context, req *models.AdjustStockRequest) (*models.StockWriteResult, error) {
	if req.NewAvailable == nil {
		return nil, fmt.Errorf("new_available is required")
	}
	return s.withLockedWriter(ctx, req, func(w *stock.SafeWriter) *models.StockWriteResult {
		return w.Set(ctx, *req.NewAvailable, req.ExpectedAvailable)
	})
}

func (s *StockService) withLockedWriter(ctx context.Context, req *models.AdjustStockRequest, write func(*stock.SafeWriter) *models.StockWriteResult) (*models.StockWriteResult, error) {
	acquired, err := s.locks.Acquire(ctx, []string{req.SKU}, req.StoreKey,
		models.LockTypeManualAdjustment, req.AdjustedBy, s.lockTimeout, req.Reason)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire adjustment lock: %w", err)
	}
	if !acquired.FullyAcquired() {
		return nil, &models.LockUnavailableError{Skus: acquired.FailedSkus}
	}
	defer func() {
		if _, err := s.locks.ReleaseByBatch(ctx, acquired.BatchID); err != nil {
			log.Error().Err(err).Str("sku", req.SKU).Msg("Failed to release adjustment lock")
		}
	}()

	token, err := s.tokens.GetToken(ctx, req.AccountRef, s.env)
	if err != nil {
		return nil, err
	}

	writer := stock.NewSafeWriter(s.factory(token), req.InventoryItemID, req.LocationID)
	result := write(writer)

	log.Info().
		Str("sku", req.SKU).
		Str("store_key", req.StoreKey).
		Str("adjusted_by", req.AdjustedBy).
		Int64("inventory_item_id", req.InventoryItemID).
		Bool("success", result.Success).
		Bool("stale", result.Stale).
		Msg("Manual stock correction attempted")

	return result, nil
}
