package test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"listing-sync-service/internal/models"
)

// MockJobRepository implements interfaces.JobRepository for testing
type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Enqueue(ctx context.Context, job *models.SyncJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobRepository) GetJob(ctx context.Context, jobID uuid.UUID) (*models.SyncJob, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncJob), args.Error(1)
}

func (m *MockJobRepository) DequeueBatch(ctx context.Context, limit int) ([]models.SyncJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SyncJob), args.Error(1)
}

func (m *MockJobRepository) MarkProcessing(ctx context.Context, jobID uuid.UUID) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) MarkCompleted(ctx context.Context, jobID uuid.UUID, annotation string) (bool, error) {
	args := m.Called(ctx, jobID, annotation)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) MarkFailed(ctx context.Context, jobID uuid.UUID, errMsg string, backoffCap time.Duration) (bool, error) {
	args := m.Called(ctx, jobID, errMsg, backoffCap)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) MarkFailedTerminal(ctx context.Context, jobID uuid.UUID, errMsg string) (bool, error) {
	args := m.Called(ctx, jobID, errMsg)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) TryAcquireDrainLock(ctx context.Context, lockKey int64) (bool, error) {
	args := m.Called(ctx, lockKey)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) ReleaseDrainLock(ctx context.Context, lockKey int64) error {
	args := m.Called(ctx, lockKey)
	return args.Error(0)
}

// MockUnitRepository implements interfaces.UnitRepository for testing
type MockUnitRepository struct {
	mock.Mock
}

func (m *MockUnitRepository) GetUnit(ctx context.Context, sku, storeKey string) (*models.InventoryUnit, error) {
	args := m.Called(ctx, sku, storeKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InventoryUnit), args.Error(1)
}

func (m *MockUnitRepository) ProvisionUnit(ctx context.Context, sku, storeKey string) (*models.InventoryUnit, error) {
	args := m.Called(ctx, sku, storeKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InventoryUnit), args.Error(1)
}

func (m *MockUnitRepository) MarkSold(ctx context.Context, sku, storeKey string, expected models.UnitStatus) (bool, error) {
	args := m.Called(ctx, sku, storeKey, expected)
	return args.Bool(0), args.Error(1)
}

func (m *MockUnitRepository) SetListingID(ctx context.Context, sku, storeKey, listingID, accountRef string) error {
	args := m.Called(ctx, sku, storeKey, listingID, accountRef)
	return args.Error(0)
}

func (m *MockUnitRepository) ClearListingID(ctx context.Context, sku, storeKey string) error {
	args := m.Called(ctx, sku, storeKey)
	return args.Error(0)
}

func (m *MockUnitRepository) SetSyncError(ctx context.Context, sku, storeKey, errMsg string) error {
	args := m.Called(ctx, sku, storeKey, errMsg)
	return args.Error(0)
}

func (m *MockUnitRepository) ClearSyncError(ctx context.Context, sku, storeKey string) error {
	args := m.Called(ctx, sku, storeKey)
	return args.Error(0)
}

// MockLockRepository implements interfaces.LockRepository for testing
type MockLockRepository struct {
	mock.Mock
}

func (m *MockLockRepository) InsertLocks(ctx context.Context, locks []models.InventoryLock) (int, []string, error) {
	args := m.Called(ctx, locks)
	var failed []string
	if args.Get(1) != nil {
		failed = args.Get(1).([]string)
	}
	return args.Int(0), failed, args.Error(2)
}

func (m *MockLockRepository) DeleteByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	args := m.Called(ctx, batchID)
	return args.Int(0), args.Error(1)
}

func (m *MockLockRepository) DeleteBySkus(ctx context.Context, skus []string, storeKey string) (int, error) {
	args := m.Called(ctx, skus, storeKey)
	return args.Int(0), args.Error(1)
}

func (m *MockLockRepository) SelectActive(ctx context.Context, skus []string, storeKey string) ([]models.InventoryLock, error) {
	args := m.Called(ctx, skus, storeKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.InventoryLock), args.Error(1)
}

func (m *MockLockRepository) DeleteExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockCacheRepository implements interfaces.CacheRepository for testing
type MockCacheRepository struct {
	mock.Mock
}

func (m *MockCacheRepository) GetUnit(ctx context.Context, sku, storeKey string) (*models.InventoryUnit, error) {
	args := m.Called(ctx, sku, storeKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InventoryUnit), args.Error(1)
}

func (m *MockCacheRepository) SetUnit(ctx context.Context, unit *models.InventoryUnit) error {
	args := m.Called(ctx, unit)
	return args.Error(0)
}

func (m *MockCacheRepository) DeleteUnit(ctx context.Context, sku, storeKey string) error {
	args := m.Called(ctx, sku, storeKey)
	return args.Error(0)
}

func (m *MockCacheRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockMarketplaceAdapter implements interfaces.MarketplaceAdapter for testing
type MockMarketplaceAdapter struct {
	mock.Mock
}

func (m *MockMarketplaceAdapter) CreateListing(ctx context.Context, token, sku string, payload *models.CreateListingPayload, quantity int) (string, error) {
	args := m.Called(ctx, token, sku, payload, quantity)
	return args.String(0), args.Error(1)
}

func (m *MockMarketplaceAdapter) UpdateListing(ctx context.Context, token string, payload *models.UpdateListingPayload, quantity int) error {
	args := m.Called(ctx, token, payload, quantity)
	return args.Error(0)
}

func (m *MockMarketplaceAdapter) DeleteListing(ctx context.Context, token, listingID string) error {
	args := m.Called(ctx, token, listingID)
	return args.Error(0)
}

// MockTokenProvider implements interfaces.TokenProvider for testing
type MockTokenProvider struct {
	mock.Mock
}

func (m *MockTokenProvider) GetToken(ctx context.Context, accountRef, env string) (string, error) {
	args := m.Called(ctx, accountRef, env)
	return args.String(0), args.Error(1)
}

// MockResultPublisher implements interfaces.ResultPublisher for testing
type MockResultPublisher struct {
	mock.Mock
}

func (m *MockResultPublisher) PublishResult(ctx context.Context, event *models.SyncResultEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockResultPublisher) PublishInvariantViolation(ctx context.Context, event *models.InvariantViolationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockResultPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockStockLevelAPI implements interfaces.StockLevelAPI for testing
type MockStockLevelAPI struct {
	mock.Mock
}

func (m *MockStockLevelAPI) GetLevel(ctx context.Context, inventoryItemID, locationID int64) (*models.StockLevel, error) {
	args := m.Called(ctx, inventoryItemID, locationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StockLevel), args.Error(1)
}

func (m *MockStockLevelAPI) AdjustAvailable(ctx context.Context, inventoryItemID, locationID int64, delta int) error {
	args := m.Called(ctx, inventoryItemID, locationID, delta)
	return args.Error(0)
}

func (m *MockStockLevelAPI) SetAvailable(ctx context.Context, inventoryItemID, locationID int64, available int) error {
	args := m.Called(ctx, inventoryItemID, locationID, available)
	return args.Error(0)
}
