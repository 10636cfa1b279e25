package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"listing-sync-service/internal/models"
)

// JobRepository defines the contract for the durable sync job queue
type JobRepository interface {
	Enqueue(ctx context.Context, job *models.SyncJob) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.SyncJob, error)

	// DequeueBatch selects queued jobs in FIFO order by queue position,
	// excluding jobs whose retry_after has not yet elapsed
	DequeueBatch(ctx context.Context, limit int) ([]models.SyncJob, error)

	// Status transitions use conditional updates keyed on the expected prior
	// status so duplicate deliveries after a crash cannot corrupt state
	MarkProcessing(ctx context.Context, jobID uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, jobID uuid.UUID, annotation string) (bool, error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, errMsg string, backoffCap time.Duration) (terminal bool, err error)

	// MarkFailedTerminal fails a job immediately without consuming the
	// remaining retry budget, used for non-retryable errors
	MarkFailedTerminal(ctx context.Context, jobID uuid.UUID, errMsg string) (bool, error)

	// Drainer coordination across processor instances
	TryAcquireDrainLock(ctx context.Context, lockKey int64) (bool, error)
	ReleaseDrainLock(ctx context.Context, lockKey int64) error
}

// UnitRepository defines the contract for the inventory unit store of record
type UnitRepository interface {
	GetUnit(ctx context.Context, sku, storeKey string) (*models.InventoryUnit, error)

	// ProvisionUnit is a unique-constraint-backed upsert: it inserts the unit
	// as available if absent and returns the current row either way, so two
	// processors can never both create it
	ProvisionUnit(ctx context.Context, sku, storeKey string) (*models.InventoryUnit, error)

	// MarkSold transitions the unit conditionally on its expected prior
	// status; returns false when the row had already moved on
	MarkSold(ctx context.Context, sku, storeKey string, expected models.UnitStatus) (bool, error)

	SetListingID(ctx context.Context, sku, storeKey, listingID, accountRef string) error
	ClearListingID(ctx context.Context, sku, storeKey string) error
	SetSyncError(ctx context.Context, sku, storeKey, errMsg string) error
	ClearSyncError(ctx context.Context, sku, storeKey string) error
}

// LockRepository defines the storage contract under the lock manager
type LockRepository interface {
	InsertLocks(ctx context.Context, locks []models.InventoryLock) (int, []string, error)
	DeleteByBatch(ctx context.Context, batchID uuid.UUID) (int, error)
	DeleteBySkus(ctx context.Context, skus []string, storeKey string) (int, error)
	SelectActive(ctx context.Context, skus []string, storeKey string) ([]models.InventoryLock, error)
	DeleteExpired(ctx context.Context) (int, error)
}

// CacheRepository defines the contract for the unit snapshot cache
type CacheRepository interface {
	GetUnit(ctx context.Context, sku, storeKey string) (*models.InventoryUnit, error)
	SetUnit(ctx context.Context, unit *models.InventoryUnit) error
	DeleteUnit(ctx context.Context, sku, storeKey string) error
	Close() error
}
