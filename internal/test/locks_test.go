package test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"listing-sync-service/internal/locks"
	"listing-sync-service/internal/models"
)

func TestAcquireDeduplicatesSkus(t *testing.T) {
	repo := new(MockLockRepository)
	mgr := locks.NewManager(repo)

	repo.On("InsertLocks", mock.Anything, mock.MatchedBy(func(rows []models.InventoryLock) bool {
		return len(rows) == 2 && rows[0].SKU == "SKU-1" && rows[1].SKU == "SKU-2"
	})).Return(2, []string{}, nil)

	result, err := mgr.Acquire(context.Background(), []string{"SKU-1", "SKU-2", "SKU-1", ""},
		"store-1", models.LockTypeBulkTransfer, "warehouse", time.Minute, "")

	require.NoError(t, err)
	assert.Equal(t, 2, result.AcquiredCount)
	assert.True(t, result.FullyAcquired())
	repo.AssertExpectations(t)
}

func TestAcquireEmptyInputIsNoOp(t *testing.T) {
	repo := new(MockLockRepository)
	mgr := locks.NewManager(repo)

	result, err := mgr.Acquire(context.Background(), nil, "store-1", models.LockTypeRecount, "ops", 0, "")

	require.NoError(t, err)
	assert.Equal(t, 0, result.AcquiredCount)
	assert.True(t, result.FullyAcquired())
	repo.AssertNotCalled(t, "InsertLocks", mock.Anything, mock.Anything)
}

func TestAcquireReportsPartialSuccess(t *testing.T) {
	repo := new(MockLockRepository)
	mgr := locks.NewManager(repo)

	repo.On("InsertLocks", mock.Anything, mock.Anything).Return(1, []string{"SKU-2"}, nil)

	result, err := mgr.Acquire(context.Background(), []string{"SKU-1", "SKU-2"},
		"store-1", models.LockTypeBulkTransfer, "warehouse", time.Minute, "pallet move")

	require.NoError(t, err)
	assert.Equal(t, 1, result.AcquiredCount)
	assert.False(t, result.FullyAcquired())
	assert.Equal(t, []string{"SKU-2"}, result.FailedSkus)
	assert.NotEqual(t, uuid.Nil, result.BatchID)
}

func TestAcquireAppliesDefaultTimeout(t *testing.T) {
	repo := new(MockLockRepository)
	mgr := locks.NewManager(repo)

	repo.On("InsertLocks", mock.Anything, mock.MatchedBy(func(rows []models.InventoryLock) bool {
		remaining := time.Until(rows[0].ExpiresAt)
		return remaining > locks.DefaultTimeout-time.Minute && remaining <= locks.DefaultTimeout
	})).Return(1, []string{}, nil)

	_, err := mgr.Acquire(context.Background(), []string{"SKU-1"},
		"store-1", models.LockTypeRecount, "ops", 0, "")

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestCheckLocksReportsPerSkuStatus(t *testing.T) {
	repo := new(MockLockRepository)
	mgr := locks.NewManager(repo)

	expires := time.Now().Add(10 * time.Minute)
	repo.On("SelectActive", mock.Anything, []string{"SKU-1", "SKU-2"}, "store-1").Return([]models.InventoryLock{
		{SKU: "SKU-1", StoreKey: "store-1", LockType: models.LockTypeRecount, LockedBy: "ops", ExpiresAt: expires},
	}, nil)

	statuses, err := mgr.CheckLocks(context.Background(), []string{"SKU-1", "SKU-2"}, "store-1")

	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].IsLocked)
	assert.Equal(t, models.LockTypeRecount, statuses[0].LockType)
	assert.Equal(t, "ops", statuses[0].LockedBy)
	assert.False(t, statuses[1].IsLocked)
	assert.Empty(t, statuses[1].LockType)
}

func TestFilterLockedPartitionsSkus(t *testing.T) {
	repo := new(MockLockRepository)
	mgr := locks.NewManager(repo)

	repo.On("SelectActive", mock.Anything, mock.Anything, "store-1").Return([]models.InventoryLock{
		{SKU: "SKU-2", StoreKey: "store-1", LockType: models.LockTypeBulkTransfer, LockedBy: "warehouse", ExpiresAt: time.Now().Add(time.Hour)},
	}, nil)

	unlocked, locked, err := mgr.FilterLocked(context.Background(), []string{"SKU-1", "SKU-2", "SKU-3"}, "store-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"SKU-1", "SKU-3"}, unlocked)
	assert.Equal(t, []string{"SKU-2"}, locked)
}

func TestReleaseByBatchReturnsCount(t *testing.T) {
	repo := new(MockLockRepository)
	mgr := locks.NewManager(repo)
	batchID := uuid.New()

	repo.On("DeleteByBatch", mock.Anything, batchID).Return(3, nil)

	released, err := mgr.ReleaseByBatch(context.Background(), batchID)

	require.NoError(t, err)
	assert.Equal(t, 3, released)
}

func TestReleaseBySkusDeduplicates(t *testing.T) {
	repo := new(MockLockRepository)
	mgr := locks.NewManager(repo)

	repo.On("DeleteBySkus", mock.Anything, []string{"SKU-1"}, "store-1").Return(1, nil)

	released, err := mgr.ReleaseBySkus(context.Background(), []string{"SKU-1", "SKU-1"}, "store-1")

	require.NoError(t, err)
	assert.Equal(t, 1, released)
	repo.AssertExpectations(t)
}
