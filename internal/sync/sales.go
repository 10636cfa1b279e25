package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/interfaces"
	"listing-sync-service/internal/models"
)

// SaleHandler reacts to point-of-sale events: it marks the unit sold in the
// store of record and enqueues a delete job so the marketplace listing ends.
// The queue, not the handler, talks to the marketplace; a sale during an
// API outage still converges once the queue drains.
type SaleHandler struct {
	jobs       interfaces.JobRepository
	units      interfaces.UnitRepository
	cache      interfaces.CacheRepository
	maxRetries int
}

// NewSaleHandler creates a sale event handler
func NewSaleHandler(jobs interfaces.JobRepository, units interfaces.UnitRepository, cache interfaces.CacheRepository, maxRetries int) *SaleHandler {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &SaleHandler{jobs: jobs, units: units, cache: cache, maxRetries: maxRetries}
}

// HandleSale processes one sale event. Marking sold is conditional on the
// unit still being available, so replayed events are no-ops.
func (h *SaleHandler) HandleSale(ctx context.Context, event *models.SaleEvent) error {
	unit, err := h.units.GetUnit(ctx, event.SKU, event.StoreKey)
	if err != nil {
		return fmt.Errorf("failed to load unit for sale event: %w", err)
	}
	if unit == nil {
		log.Warn().
			Str("sku", event.SKU).
			Str("store_key", event.StoreKey).
			Str("order_ref", event.OrderRef).
			Msg("Sale event for unknown unit, ignoring")
		return nil
	}

	marked, err := h.units.MarkSold(ctx, event.SKU, event.StoreKey, models.UnitStatusAvailable)
	if err != nil {
		return fmt.Errorf("failed to mark unit sold: %w", err)
	}
	if !marked {
		log.Info().
			Str("sku", event.SKU).
			Str("store_key", event.StoreKey).
			Str("status", string(unit.Status)).
			Msg("Unit not available at sale time, treating as duplicate event")
		return nil
	}

	h.invalidate(event.SKU, event.StoreKey)

	log.Info().
		Str("sku", event.SKU).
		Str("store_key", event.StoreKey).
		Str("order_ref", event.OrderRef).
		Msg("Unit marked sold from sale event")

	if unit.ListingID == nil || *unit.ListingID == "" {
		return nil
	}
	if unit.AccountRef == nil || *unit.AccountRef == "" {
		log.Warn().
			Str("sku", event.SKU).
			Str("listing_id", *unit.ListingID).
			Msg("Listed unit has no account reference, cannot enqueue delist")
		return nil
	}

	payload, err := json.Marshal(models.DeleteListingPayload{ListingID: *unit.ListingID})
	if err != nil {
		return fmt.Errorf("failed to encode delist payload: %w", err)
	}

	job := &models.SyncJob{
		ID:         uuid.New(),
		Action:     models.ActionDelete,
		SKU:        event.SKU,
		StoreKey:   event.StoreKey,
		AccountRef: *unit.AccountRef,
		Payload:    payload,
		MaxRetries: h.maxRetries,
	}
	if err := h.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue delist job: %w", err)
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("sku", event.SKU).
		Str("listing_id", *unit.ListingID).
		Msg("Enqueued delist job for sold unit")

	return nil
}

func (h *SaleHandler) invalidate(sku, storeKey string) {
	if h.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.cache.DeleteUnit(ctx, sku, storeKey); err != nil {
			log.Error().Err(err).Str("sku", sku).Msg("Failed to invalidate unit cache")
		}
	}()
}
