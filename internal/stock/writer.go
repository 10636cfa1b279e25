package stock

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/interfaces"
	"listing-sync-service/internal/models"
)

// SafeWriter performs read-check-write mutations against one external
// (inventory_item, location) stock level. Writes are conditioned on the
// value read being unchanged (optimistic locking) and never drive the level
// negative. A concurrent writer such as a point-of-sale decrement therefore
// surfaces as a detectable StaleData result instead of a silent lost update.
type SafeWriter struct {
	api             interfaces.StockLevelAPI
	inventoryItemID int64
	locationID      int64
}

// NewSafeWriter creates a writer bound to one (inventory_item, location) pair
func NewSafeWriter(api interfaces.StockLevelAPI, inventoryItemID, locationID int64) *SafeWriter {
	return &SafeWriter{api: api, inventoryItemID: inventoryItemID, locationID: locationID}
}

// GetLevel is a read-only fetch of the current level; nil means no level is
// tracked for the pair
func (w *SafeWriter) GetLevel(ctx context.Context) (*models.StockLevel, error) {
	return w.api.GetLevel(ctx, w.inventoryItemID, w.locationID)
}

// Adjust applies a relative delta. When expectedAvailable is non-nil and the
// current level differs, the call returns a stale result carrying the actual
// value and performs no write; the caller must re-derive intent before
// retrying. A delta that would go negative returns InsufficientInventory
// with zero external side effect.
func (w *SafeWriter) Adjust(ctx context.Context, delta int, expectedAvailable *int) *models.StockWriteResult {
	level, err := w.GetLevel(ctx)
	if err != nil {
		return &models.StockWriteResult{Err: fmt.Errorf("failed to fetch stock level: %w", err)}
	}
	if level == nil {
		return &models.StockWriteResult{Err: fmt.Errorf("no stock level tracked for item %d location %d", w.inventoryItemID, w.locationID)}
	}

	current := level.Available

	if expectedAvailable != nil && *expectedAvailable != current {
		log.Warn().
			Int64("inventory_item_id", w.inventoryItemID).
			Int64("location_id", w.locationID).
			Int("expected", *expectedAvailable).
			Int("actual", current).
			Msg("Stale stock read detected, refusing write")

		return &models.StockWriteResult{
			Previous: current,
			New:      current,
			Stale:    true,
			Err:      &models.StaleDataError{Expected: *expectedAvailable, Actual: current},
		}
	}

	newAvailable := current + delta
	if newAvailable < 0 {
		return &models.StockWriteResult{
			Previous: current,
			New:      current,
			Err:      &models.InsufficientInventoryError{Current: current, Delta: delta},
		}
	}

	// Delta primitive, not absolute set: concurrent writers compose instead
	// of overwriting each other
	if err := w.api.AdjustAvailable(ctx, w.inventoryItemID, w.locationID, delta); err != nil {
		return &models.StockWriteResult{Previous: current, New: current, Err: err}
	}

	log.Debug().
		Int64("inventory_item_id", w.inventoryItemID).
		Int64("location_id", w.locationID).
		Int("previous", current).
		Int("new", newAvailable).
		Msg("Adjusted external stock level")

	return &models.StockWriteResult{Success: true, Previous: current, New: newAvailable}
}

// Set writes an absolute level after the same optimistic check as Adjust.
// Reconciliation always passes expectedAvailable; the unchecked path exists
// only for legacy non-concurrent callers.
func (w *SafeWriter) Set(ctx context.Context, newAvailable int, expectedAvailable *int) *models.StockWriteResult {
	if newAvailable < 0 {
		return &models.StockWriteResult{
			Err: &models.InsufficientInventoryError{Current: 0, Delta: newAvailable},
		}
	}

	level, err := w.GetLevel(ctx)
	if err != nil {
		return &models.StockWriteResult{Err: fmt.Errorf("failed to fetch stock level: %w", err)}
	}

	current := 0
	if level != nil {
		current = level.Available
	}

	if expectedAvailable != nil && *expectedAvailable != current {
		return &models.StockWriteResult{
			Previous: current,
			New:      current,
			Stale:    true,
			Err:      &models.StaleDataError{Expected: *expectedAvailable, Actual: current},
		}
	}

	if err := w.api.SetAvailable(ctx, w.inventoryItemID, w.locationID, newAvailable); err != nil {
		return &models.StockWriteResult{Previous: current, New: current, Err: err}
	}

	log.Debug().
		Int64("inventory_item_id", w.inventoryItemID).
		Int64("location_id", w.locationID).
		Int("previous", current).
		Int("new", newAvailable).
		Msg("Set external stock level")

	return &models.StockWriteResult{Success: true, Previous: current, New: newAvailable}
}
