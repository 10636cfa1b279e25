package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/models"
)

// UnitRepository handles database operations for inventory units
type UnitRepository struct {
	db *sqlx.DB
}

// NewUnitRepository creates a new unit repository
func NewUnitRepository(db *sqlx.DB) *UnitRepository {
	return &UnitRepository{db: db}
}

const unitColumns = `sku, store_key, status, quantity_hint, grading_company, grade, cert_number,
	listing_id, account_ref, last_sync_error, last_synced_at, created_at, updated_at`

// GetUnit retrieves a unit by SKU and store key
func (r *UnitRepository) GetUnit(ctx context.Context, sku, storeKey string) (*models.InventoryUnit, error) {
	var unit models.InventoryUnit
	query := `SELECT ` + unitColumns + ` FROM inventory_unit WHERE sku = $1 AND store_key = $2`

	err := r.db.GetContext(ctx, &unit, query, sku, storeKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("sku", sku).Msg("Failed to get inventory unit")
		return nil, fmt.Errorf("failed to get inventory unit: %w", err)
	}

	return &unit, nil
}

// ProvisionUnit inserts the unit as available if it does not exist and
// returns the current row either way. The unique constraint on
// (sku, store_key) makes this safe against two processors provisioning the
// same unit concurrently; the no-op DO UPDATE lets RETURNING see the
// existing row on conflict.
func (r *UnitRepository) ProvisionUnit(ctx context.Context, sku, storeKey string) (*models.InventoryUnit, error) {
	var unit models.InventoryUnit
	query := `
		INSERT INTO inventory_unit (sku, store_key, status, quantity_hint, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (sku, store_key) DO UPDATE SET sku = EXCLUDED.sku
		RETURNING ` + unitColumns

	err := r.db.GetContext(ctx, &unit, query, sku, storeKey, models.UnitStatusAvailable)
	if err != nil {
		log.Error().Err(err).Str("sku", sku).Msg("Failed to provision inventory unit")
		return nil, fmt.Errorf("failed to provision inventory unit: %w", err)
	}

	return &unit, nil
}

// MarkSold transitions the unit to sold conditionally on its expected prior
// status. A false return means the row was no longer in the expected state.
func (r *UnitRepository) MarkSold(ctx context.Context, sku, storeKey string, expected models.UnitStatus) (bool, error) {
	query := `
		UPDATE inventory_unit
		SET status = $3, updated_at = NOW()
		WHERE sku = $1 AND store_key = $2 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, sku, storeKey, models.UnitStatusSold, expected)
	if err != nil {
		log.Error().Err(err).Str("sku", sku).Msg("Failed to mark unit sold")
		return false, fmt.Errorf("failed to mark unit sold: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rowsAffected == 1, nil
}

// SetListingID persists the marketplace's returned listing identifier along
// with the account that owns the listing
func (r *UnitRepository) SetListingID(ctx context.Context, sku, storeKey, listingID, accountRef string) error {
	query := `
		UPDATE inventory_unit
		SET listing_id = $3, account_ref = $4, last_synced_at = NOW(), updated_at = NOW()
		WHERE sku = $1 AND store_key = $2
	`

	if _, err := r.db.ExecContext(ctx, query, sku, storeKey, listingID, accountRef); err != nil {
		log.Error().Err(err).Str("sku", sku).Msg("Failed to set listing id")
		return fmt.Errorf("failed to set listing id: %w", err)
	}

	return nil
}

// ClearListingID removes the listing reference after a delisting
func (r *UnitRepository) ClearListingID(ctx context.Context, sku, storeKey string) error {
	query := `
		UPDATE inventory_unit
		SET listing_id = NULL, last_synced_at = NOW(), updated_at = NOW()
		WHERE sku = $1 AND store_key = $2
	`

	if _, err := r.db.ExecContext(ctx, query, sku, storeKey); err != nil {
		log.Error().Err(err).Str("sku", sku).Msg("Failed to clear listing id")
		return fmt.Errorf("failed to clear listing id: %w", err)
	}

	return nil
}

// SetSyncError records the last sync failure on the unit for operators
func (r *UnitRepository) SetSyncError(ctx context.Context, sku, storeKey, errMsg string) error {
	query := `
		UPDATE inventory_unit
		SET last_sync_error = $3, updated_at = NOW()
		WHERE sku = $1 AND store_key = $2
	`

	if _, err := r.db.ExecContext(ctx, query, sku, storeKey, errMsg); err != nil {
		log.Error().Err(err).Str("sku", sku).Msg("Failed to set sync error")
		return fmt.Errorf("failed to set sync error: %w", err)
	}

	return nil
}

// ClearSyncError removes the sync error after a successful sync
func (r *UnitRepository) ClearSyncError(ctx context.Context, sku, storeKey string) error {
	query := `
		UPDATE inventory_unit
		SET last_sync_error = NULL, updated_at = NOW()
		WHERE sku = $1 AND store_key = $2
	`

	if _, err := r.db.ExecContext(ctx, query, sku, storeKey); err != nil {
		log.Error().Err(err).Str("sku", sku).Msg("Failed to clear sync error")
		return fmt.Errorf("failed to clear sync error: %w", err)
	}

	return nil
}
