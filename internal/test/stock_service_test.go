package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"listing-sync-service/internal/interfaces"
	"listing-sync-service/internal/locks"
	"listing-sync-service/internal/models"
	"listing-sync-service/internal/service"
)

func newStockService(lockRepo *MockLockRepository, tokens *MockTokenProvider, api *MockStockLevelAPI) *service.StockService {
	factory := func(token string) interfaces.StockLevelAPI { return api }
	return service.NewStockService(locks.NewManager(lockRepo), tokens, factory, "sandbox", 5*time.Minute)
}

func adjustRequest(delta int) *models.AdjustStockRequest {
	return &models.AdjustStockRequest{
		SKU:             "SKU-1",
		StoreKey:        "store-1",
		AccountRef:      "acct-1",
		InventoryItemID: 1001,
		LocationID:      2001,
		Delta:           delta,
		AdjustedBy:      "ops@example.com",
		Reason:          "cycle count correction",
	}
}

func TestStockAdjustLocksWritesAndReleases(t *testing.T) {
	lockRepo := new(MockLockRepository)
	tokens := new(MockTokenProvider)
	api := new(MockStockLevelAPI)
	svc := newStockService(lockRepo, tokens, api)

	lockRepo.On("InsertLocks", mock.Anything, mock.MatchedBy(func(rows []models.InventoryLock) bool {
		return len(rows) == 1 && rows[0].LockType == models.LockTypeManualAdjustment && rows[0].LockedBy == "ops@example.com"
	})).Return(1, []string{}, nil)
	lockRepo.On("DeleteByBatch", mock.Anything, mock.Anything).Return(1, nil)
	tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("tok", nil)
	api.On("GetLevel", mock.Anything, int64(1001), int64(2001)).Return(&models.StockLevel{Available: 10}, nil)
	api.On("AdjustAvailable", mock.Anything, int64(1001), int64(2001), -2).Return(nil)

	result, err := svc.Adjust(context.Background(), adjustRequest(-2))

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 8, result.New)
	lockRepo.AssertExpectations(t)
}

func TestStockAdjustRejectsZeroDelta(t *testing.T) {
	lockRepo := new(MockLockRepository)
	svc := newStockService(lockRepo, new(MockTokenProvider), new(MockStockLevelAPI))

	_, err := svc.Adjust(context.Background(), adjustRequest(0))

	assert.Error(t, err)
	lockRepo.AssertNotCalled(t, "InsertLocks", mock.Anything, mock.Anything)
}

func TestStockAdjustFailsWhenSkuLocked(t *testing.T) {
	lockRepo := new(MockLockRepository)
	svc := newStockService(lockRepo, new(MockTokenProvider), new(MockStockLevelAPI))

	lockRepo.On("InsertLocks", mock.Anything, mock.Anything).Return(0, []string{"SKU-1"}, nil)

	_, err := svc.Adjust(context.Background(), adjustRequest(-2))

	require.Error(t, err)
	assert.True(t, models.IsLockUnavailable(err))
	lockRepo.AssertNotCalled(t, "DeleteByBatch", mock.Anything, mock.Anything)
}

func TestStockAdjustReleasesLockOnAuthFailure(t *testing.T) {
	lockRepo := new(MockLockRepository)
	tokens := new(MockTokenProvider)
	svc := newStockService(lockRepo, tokens, new(MockStockLevelAPI))

	authErr := &models.AuthFailureError{AccountRef: "acct-1"}
	lockRepo.On("InsertLocks", mock.Anything, mock.Anything).Return(1, []string{}, nil)
	lockRepo.On("DeleteByBatch", mock.Anything, mock.Anything).Return(1, nil)
	tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("", authErr)

	_, err := svc.Adjust(context.Background(), adjustRequest(-2))

	require.Error(t, err)
	assert.True(t, models.IsAuthFailure(err))
	lockRepo.AssertCalled(t, "DeleteByBatch", mock.Anything, mock.Anything)
}

func TestStockSetRequiresNewAvailable(t *testing.T) {
	lockRepo := new(MockLockRepository)
	svc := newStockService(lockRepo, new(MockTokenProvider), new(MockStockLevelAPI))

	req := adjustRequest(0)
	_, err := svc.Set(context.Background(), req)

	assert.Error(t, err)
	lockRepo.AssertNotCalled(t, "InsertLocks", mock.Anything, mock.Anything)
}

func TestStockSetSurfacesStaleResult(t *testing.T) {
	lockRepo := new(MockLockRepository)
	tokens := new(MockTokenProvider)
	api := new(MockStockLevelAPI)
	svc := newStockService(lockRepo, tokens, api)

	lockRepo.On("InsertLocks", mock.Anything, mock.Anything).Return(1, []string{}, nil)
	lockRepo.On("DeleteByBatch", mock.Anything, mock.Anything).Return(1, nil)
	tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("tok", nil)
	api.On("GetLevel", mock.Anything, int64(1001), int64(2001)).Return(&models.StockLevel{Available: 6}, nil)

	req := adjustRequest(0)
	newAvailable := 12
	expected := 4
	req.NewAvailable = &newAvailable
	req.ExpectedAvailable = &expected

	result, err := svc.Set(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, result.Stale)
	assert.Equal(t, 6, result.Previous)
	api.AssertNotCalled(t, "SetAvailable", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
