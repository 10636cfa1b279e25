package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/interfaces"
	"listing-sync-service/internal/models"
)

// DefaultTimeout is the lock lifetime applied when the caller passes zero
const DefaultTimeout = 15 * time.Minute

// Manager acquires and releases short-lived, expiring locks on inventory
// unit SKUs scoped to a store. Locks are advisory: they must be checked
// before any external stock mutation touching the SKU, and a crashed holder
// self-heals via expiry rather than explicit cancellation.
type Manager struct {
	repo interfaces.LockRepository
}

// NewManager creates a new lock manager
func NewManager(repo interfaces.LockRepository) *Manager {
	return &Manager{repo: repo}
}

// Acquire locks a batch of SKUs. Partial success is possible: SKUs already
// locked come back in FailedSkus and the caller decides whether to proceed
// with the acquired subset. Empty input is a no-op success.
func (m *Manager) Acquire(ctx context.Context, skus []string, storeKey, lockType, lockedBy string, timeout time.Duration, lockCtx string) (*models.AcquireResult, error) {
	batchID := uuid.New()
	result := &models.AcquireResult{BatchID: batchID}

	skus = dedupe(skus)
	if len(skus) == 0 {
		return result, nil
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	expiresAt := time.Now().Add(timeout)
	locks := make([]models.InventoryLock, len(skus))
	for i, sku := range skus {
		locks[i] = models.InventoryLock{
			SKU:       sku,
			StoreKey:  storeKey,
			LockType:  lockType,
			LockedBy:  lockedBy,
			BatchID:   batchID,
			ExpiresAt: expiresAt,
		}
		if lockCtx != "" {
			c := lockCtx
			locks[i].Context = &c
		}
	}

	acquired, failed, err := m.repo.InsertLocks(ctx, locks)
	if err != nil {
		log.Error().Err(err).
			Str("store_key", storeKey).
			Str("lock_type", lockType).
			Int("sku_count", len(skus)).
			Msg("Lock acquisition failed at storage layer")
		return nil, err
	}

	result.AcquiredCount = acquired
	result.FailedSkus = failed

	if len(failed) > 0 {
		log.Warn().
			Str("store_key", storeKey).
			Str("locked_by", lockedBy).
			Strs("failed_skus", failed).
			Int("acquired", acquired).
			Msg("Partial lock acquisition")
	} else {
		log.Debug().
			Str("store_key", storeKey).
			Str("batch_id", batchID.String()).
			Int("acquired", acquired).
			Msg("Acquired inventory locks")
	}

	return result, nil
}

// ReleaseByBatch releases every lock created by one acquire call
func (m *Manager) ReleaseByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	released, err := m.repo.DeleteByBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}

	log.Debug().
		Str("batch_id", batchID.String()).
		Int("released", released).
		Msg("Released locks by batch")

	return released, nil
}

// ReleaseBySkus releases locks for individual SKUs in a store
func (m *Manager) ReleaseBySkus(ctx context.Context, skus []string, storeKey string) (int, error) {
	skus = dedupe(skus)
	released, err := m.repo.DeleteBySkus(ctx, skus, storeKey)
	if err != nil {
		return 0, err
	}

	log.Debug().
		Str("store_key", storeKey).
		Int("released", released).
		Msg("Released locks by skus")

	return released, nil
}

// CheckLocks reports the lock state of every requested SKU. Storage errors
// surface to the caller, who decides whether unknown means locked (before
// destructive writes) or unlocked (read paths).
func (m *Manager) CheckLocks(ctx context.Context, skus []string, storeKey string) ([]models.LockStatus, error) {
	skus = dedupe(skus)
	if len(skus) == 0 {
		return nil, nil
	}

	active, err := m.repo.SelectActive(ctx, skus, storeKey)
	if err != nil {
		return nil, err
	}

	bySkU := make(map[string]*models.InventoryLock, len(active))
	for i := range active {
		bySkU[active[i].SKU] = &active[i]
	}

	statuses := make([]models.LockStatus, len(skus))
	for i, sku := range skus {
		if lock, ok := bySkU[sku]; ok {
			expires := lock.ExpiresAt
			statuses[i] = models.LockStatus{
				SKU:       sku,
				IsLocked:  true,
				LockType:  lock.LockType,
				LockedBy:  lock.LockedBy,
				ExpiresAt: &expires,
			}
		} else {
			statuses[i] = models.LockStatus{SKU: sku}
		}
	}

	return statuses, nil
}

// FilterLocked partitions SKUs into unlocked and locked sets
func (m *Manager) FilterLocked(ctx context.Context, skus []string, storeKey string) (unlocked, locked []string, err error) {
	statuses, err := m.CheckLocks(ctx, skus, storeKey)
	if err != nil {
		return nil, nil, err
	}

	for _, status := range statuses {
		if status.IsLocked {
			locked = append(locked, status.SKU)
		} else {
			unlocked = append(unlocked, status.SKU)
		}
	}

	return unlocked, locked, nil
}

// CleanupExpired deletes locks past their expiry. Idempotent; safe to call
// opportunistically from any instance.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.repo.DeleteExpired(ctx)
}

func dedupe(skus []string) []string {
	if len(skus) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(skus))
	out := make([]string, 0, len(skus))
	for _, sku := range skus {
		if sku == "" || seen[sku] {
			continue
		}
		seen[sku] = true
		out = append(out, sku)
	}
	return out
}
