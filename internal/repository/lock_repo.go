package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/models"
)

// LockRepository handles the inventory_lock table. The unique constraint on
// (sku, store_key) is what enforces mutual exclusion across instances.
type LockRepository struct {
	db *sqlx.DB
}

// NewLockRepository creates a new lock repository
func NewLockRepository(db *sqlx.DB) *LockRepository {
	return &LockRepository{db: db}
}

// InsertLocks attempts to insert every lock in one transaction, first
// sweeping expired rows for the requested SKUs so a dead holder never blocks
// a new acquire. ON CONFLICT DO NOTHING yields partial success: the returned
// slice lists SKUs that were already locked.
func (r *LockRepository) InsertLocks(ctx context.Context, locks []models.InventoryLock) (int, []string, error) {
	if len(locks) == 0 {
		return 0, nil, nil
	}

	skus := make([]string, len(locks))
	for i, l := range locks {
		skus[i] = l.SKU
	}
	storeKey := locks[0].StoreKey

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Error().Err(err).Msg("Failed to rollback transaction")
		}
	}()

	// Opportunistic expiry sweep for the SKUs being acquired
	sweep := `DELETE FROM inventory_lock WHERE sku = ANY($1) AND store_key = $2 AND expires_at <= NOW()`
	if _, err := tx.ExecContext(ctx, sweep, pq.Array(skus), storeKey); err != nil {
		return 0, nil, fmt.Errorf("failed to sweep expired locks: %w", err)
	}

	insert := `
		INSERT INTO inventory_lock (sku, store_key, lock_type, locked_by, batch_id, context, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (sku, store_key) DO NOTHING
	`

	acquired := make(map[string]bool, len(locks))
	for _, l := range locks {
		result, err := tx.ExecContext(ctx, insert, l.SKU, l.StoreKey, l.LockType, l.LockedBy, l.BatchID, l.Context, l.ExpiresAt)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to insert lock for %s: %w", l.SKU, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return 0, nil, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rowsAffected == 1 {
			acquired[l.SKU] = true
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	var failed []string
	for _, sku := range skus {
		if !acquired[sku] {
			failed = append(failed, sku)
		}
	}

	return len(acquired), failed, nil
}

// DeleteByBatch removes every lock created by one acquire call
func (r *LockRepository) DeleteByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	query := `DELETE FROM inventory_lock WHERE batch_id = $1`

	result, err := r.db.ExecContext(ctx, query, batchID)
	if err != nil {
		log.Error().Err(err).Str("batch_id", batchID.String()).Msg("Failed to delete locks by batch")
		return 0, fmt.Errorf("failed to delete locks by batch: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(rowsAffected), nil
}

// DeleteBySkus removes locks for individual SKUs in a store
func (r *LockRepository) DeleteBySkus(ctx context.Context, skus []string, storeKey string) (int, error) {
	if len(skus) == 0 {
		return 0, nil
	}

	query := `DELETE FROM inventory_lock WHERE sku = ANY($1) AND store_key = $2`

	result, err := r.db.ExecContext(ctx, query, pq.Array(skus), storeKey)
	if err != nil {
		log.Error().Err(err).Strs("skus", skus).Msg("Failed to delete locks by skus")
		return 0, fmt.Errorf("failed to delete locks by skus: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(rowsAffected), nil
}

// SelectActive returns the non-expired locks held on any of the given SKUs
func (r *LockRepository) SelectActive(ctx context.Context, skus []string, storeKey string) ([]models.InventoryLock, error) {
	if len(skus) == 0 {
		return nil, nil
	}

	var locks []models.InventoryLock
	query := `
		SELECT sku, store_key, lock_type, locked_by, batch_id, context, expires_at, created_at
		FROM inventory_lock
		WHERE sku = ANY($1) AND store_key = $2 AND expires_at > NOW()
	`

	err := r.db.SelectContext(ctx, &locks, query, pq.Array(skus), storeKey)
	if err != nil {
		log.Error().Err(err).Strs("skus", skus).Msg("Failed to select active locks")
		return nil, fmt.Errorf("failed to select active locks: %w", err)
	}

	return locks, nil
}

// DeleteExpired removes locks past their expiry. Safe to call concurrently;
// a second sweeper simply deletes zero rows.
func (r *LockRepository) DeleteExpired(ctx context.Context) (int, error) {
	query := `DELETE FROM inventory_lock WHERE expires_at <= NOW()`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete expired locks")
		return 0, fmt.Errorf("failed to delete expired locks: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rowsAffected > 0 {
		log.Info().Int64("count", rowsAffected).Msg("Swept expired inventory locks")
	}

	return int(rowsAffected), nil
}
