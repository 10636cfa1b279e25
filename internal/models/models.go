package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SyncAction is the mutation a job performs against a marketplace listing
type SyncAction string

const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionDelete SyncAction = "delete"
)

// Valid reports whether the action is one of the supported mutations
func (a SyncAction) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// SyncStatus represents the state of a sync job
type SyncStatus string

const (
	SyncStatusQueued     SyncStatus = "queued"
	SyncStatusProcessing SyncStatus = "processing"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusFailed     SyncStatus = "failed"
)

// UnitStatus represents the source-of-truth state of an inventory unit
type UnitStatus string

const (
	UnitStatusAvailable UnitStatus = "available"
	UnitStatusSold      UnitStatus = "sold"
	UnitStatusUnknown   UnitStatus = "unknown"
)

// Lock types recognized by the lock manager
const (
	LockTypeBulkTransfer     = "bulk_transfer"
	LockTypeRecount          = "recount"
	LockTypeReconciliation   = "reconciliation"
	LockTypeManualAdjustment = "manual_adjustment"
)

// Result annotations published for completed jobs
const (
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeSkippedSold = "skipped: sold"
)

// SyncJob represents one requested listing mutation in the sync_job table
type SyncJob struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	Action        SyncAction      `db:"action" json:"action"`
	SKU           string          `db:"sku" json:"sku"`
	StoreKey      string          `db:"store_key" json:"store_key"`
	AccountRef    string          `db:"account_ref" json:"account_ref"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        SyncStatus      `db:"status" json:"status"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	MaxRetries    int             `db:"max_retries" json:"max_retries"`
	QueuePosition int64           `db:"queue_position" json:"queue_position"`
	Annotation    *string         `db:"annotation" json:"annotation,omitempty"`
	ErrorMessage  *string         `db:"error_message" json:"error_message,omitempty"`
	RetryAfter    *time.Time      `db:"retry_after" json:"retry_after,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	StartedAt     *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// RetriesExhausted reports whether the job may no longer return to queued
func (j *SyncJob) RetriesExhausted() bool {
	return j.RetryCount >= j.MaxRetries
}

// CreateListingPayload is the schema for create jobs, captured at enqueue time
type CreateListingPayload struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Price       float64  `json:"price" validate:"required,gt=0"`
	Quantity    int      `json:"quantity" validate:"required,min=1"`
	ConditionID string   `json:"condition_id"`
	CategoryRef string   `json:"category_ref"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

// UpdateListingPayload is the schema for update jobs. ListingID may be
// empty; the processor falls back to the unit's stored listing reference.
type UpdateListingPayload struct {
	ListingID string   `json:"listing_id,omitempty"`
	Title     *string  `json:"title,omitempty"`
	Price     *float64 `json:"price,omitempty" validate:"omitempty,gt=0"`
	Quantity  *int     `json:"quantity,omitempty" validate:"omitempty,min=0"`
}

// DeleteListingPayload is the schema for delete jobs. ListingID may be
// empty; the processor falls back to the unit's stored listing reference.
type DeleteListingPayload struct {
	ListingID string `json:"listing_id,omitempty"`
}

// InventoryUnit is the canonical record for one sellable item
type InventoryUnit struct {
	SKU            string     `db:"sku" json:"sku"`
	StoreKey       string     `db:"store_key" json:"store_key"`
	Status         UnitStatus `db:"status" json:"status"`
	QuantityHint   int        `db:"quantity_hint" json:"quantity_hint"`
	GradingCompany *string    `db:"grading_company" json:"grading_company,omitempty"`
	Grade          *string    `db:"grade" json:"grade,omitempty"`
	CertNumber     *string    `db:"cert_number" json:"cert_number,omitempty"`
	ListingID      *string    `db:"listing_id" json:"listing_id,omitempty"`
	AccountRef     *string    `db:"account_ref" json:"account_ref,omitempty"`
	LastSyncError  *string    `db:"last_sync_error" json:"last_sync_error,omitempty"`
	LastSyncedAt   *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// IsGraded reports whether the unit is a uniquely graded one-of-one item.
// Graded units derive their effective listed quantity from status alone.
func (u *InventoryUnit) IsGraded() bool {
	return u.CertNumber != nil && *u.CertNumber != ""
}

// EffectiveQuantity derives the quantity a listing for this unit may carry.
// For graded units the payload's cached quantity is never trusted.
func (u *InventoryUnit) EffectiveQuantity(payloadQty int) int {
	if u.IsGraded() {
		if u.Status == UnitStatusAvailable {
			return 1
		}
		return 0
	}
	if payloadQty < 0 {
		return 0
	}
	return payloadQty
}

// InventoryLock is the mutual-exclusion marker for one (sku, store_key) pair
type InventoryLock struct {
	SKU       string    `db:"sku" json:"sku"`
	StoreKey  string    `db:"store_key" json:"store_key"`
	LockType  string    `db:"lock_type" json:"lock_type"`
	LockedBy  string    `db:"locked_by" json:"locked_by"`
	BatchID   uuid.UUID `db:"batch_id" json:"batch_id"`
	Context   *string   `db:"context" json:"context,omitempty"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// LockStatus is the per-SKU answer returned by checkLocks
type LockStatus struct {
	SKU       string     `json:"sku"`
	IsLocked  bool       `json:"is_locked"`
	LockType  string     `json:"lock_type,omitempty"`
	LockedBy  string     `json:"locked_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// AcquireResult reports the outcome of a batch lock acquisition.
// Partial success is possible: FailedSkus lists SKUs already locked.
type AcquireResult struct {
	AcquiredCount int       `json:"acquired_count"`
	FailedSkus    []string  `json:"failed_skus"`
	BatchID       uuid.UUID `json:"batch_id"`
}

// FullyAcquired reports whether every requested SKU was locked
func (r *AcquireResult) FullyAcquired() bool {
	return len(r.FailedSkus) == 0
}

// StockLevel is a read of the marketplace's available quantity for one
// (inventory_item, location) pair
type StockLevel struct {
	Available int       `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockWriteResult reports the outcome of an adjust or set on external stock
type StockWriteResult struct {
	Success  bool  `json:"success"`
	Previous int   `json:"previous"`
	New      int   `json:"new"`
	Stale    bool  `json:"stale,omitempty"`
	Err      error `json:"-"`
}

// SyncResultEvent is published to the results topic for UI and alerting
type SyncResultEvent struct {
	EventID   string     `json:"event_id"`
	JobID     uuid.UUID  `json:"job_id"`
	SKU       string     `json:"sku"`
	StoreKey  string     `json:"store_key"`
	Action    SyncAction `json:"action"`
	Outcome   string     `json:"outcome"`
	ListingID string     `json:"listing_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// InvariantViolationEvent is published when a graded unit's payload carried a
// quantity that disagrees with the status-derived value. The violation is
// corrected in place, never thrown.
type InvariantViolationEvent struct {
	EventID   string    `json:"event_id"`
	SKU       string    `json:"sku"`
	StoreKey  string    `json:"store_key"`
	Expected  int       `json:"expected"`
	Actual    int       `json:"actual"`
	JobID     uuid.UUID `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleEvent arrives from the point-of-sale system when a unit sells in a
// physical channel. The consumer marks the unit sold and enqueues delete
// jobs for its marketplace listings.
type SaleEvent struct {
	EventID  string    `json:"event_id"`
	SKU      string    `json:"sku"`
	StoreKey string    `json:"store_key"`
	OrderRef string    `json:"order_ref"`
	SoldAt   time.Time `json:"sold_at"`
}

// API Request Models

// EnqueueJobRequest enqueues one listing mutation. Payload is decoded and
// validated per action before the job is accepted.
type EnqueueJobRequest struct {
	Action     SyncAction      `json:"action" binding:"required" validate:"required"`
	SKU        string          `json:"sku" binding:"required" validate:"required"`
	StoreKey   string          `json:"store_key" binding:"required" validate:"required"`
	AccountRef string          `json:"account_ref" binding:"required" validate:"required"`
	Payload    json.RawMessage `json:"payload" binding:"required" validate:"required"`
	MaxRetries *int            `json:"max_retries,omitempty" validate:"omitempty,min=0,max=10"`
}

// AcquireLocksRequest is the lock-admin request to lock a batch of SKUs
type AcquireLocksRequest struct {
	Skus           []string `json:"skus" binding:"required" validate:"required,min=1"`
	StoreKey       string   `json:"store_key" binding:"required" validate:"required"`
	LockType       string   `json:"lock_type" binding:"required" validate:"required,oneof=bulk_transfer recount reconciliation manual_adjustment"`
	LockedBy       string   `json:"locked_by" binding:"required" validate:"required"`
	TimeoutMinutes int      `json:"timeout_minutes,omitempty" validate:"omitempty,min=1,max=240"`
	Context        string   `json:"context,omitempty"`
}

// ReleaseBatchRequest releases every lock created by one acquire call
type ReleaseBatchRequest struct {
	BatchID uuid.UUID `json:"batch_id" binding:"required" validate:"required"`
}

// ReleaseSkusRequest releases locks for individual SKUs in a store
type ReleaseSkusRequest struct {
	Skus     []string `json:"skus" binding:"required" validate:"required,min=1"`
	StoreKey string   `json:"store_key" binding:"required" validate:"required"`
}

// AdjustStockRequest applies a manual correction to a marketplace stock
// level. Delta-based adjusts carry the change; absolute sets carry the new
// value. ExpectedAvailable, when set, makes the write optimistic.
type AdjustStockRequest struct {
	SKU               string `json:"sku" binding:"required" validate:"required"`
	StoreKey          string `json:"store_key" binding:"required" validate:"required"`
	AccountRef        string `json:"account_ref" binding:"required" validate:"required"`
	InventoryItemID   int64  `json:"inventory_item_id" binding:"required" validate:"required"`
	LocationID        int64  `json:"location_id" binding:"required" validate:"required"`
	Delta             int    `json:"delta,omitempty"`
	NewAvailable      *int   `json:"new_available,omitempty" validate:"omitempty,min=0"`
	ExpectedAvailable *int   `json:"expected_available,omitempty"`
	AdjustedBy        string `json:"adjusted_by" binding:"required" validate:"required"`
	Reason            string `json:"reason,omitempty"`
}

// API Response Models

// EnqueueJobResponse is returned after a job is accepted
type EnqueueJobResponse struct {
	JobID         uuid.UUID  `json:"job_id"`
	Status        SyncStatus `json:"status"`
	QueuePosition int64      `json:"queue_position"`
	Message       string     `json:"message"`
}

// AvailabilityResponse reports a unit's source-of-truth state, cache-first
type AvailabilityResponse struct {
	SKU          string     `json:"sku"`
	StoreKey     string     `json:"store_key"`
	Status       UnitStatus `json:"status"`
	QuantityHint int        `json:"quantity_hint"`
	Graded       bool       `json:"graded"`
	CacheHit     bool       `json:"cache_hit"`
	LastUpdated  time.Time  `json:"last_updated"`
}

// ReleaseResponse reports how many locks a release call removed
type ReleaseResponse struct {
	ReleasedCount int `json:"released_count"`
}
