package test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"listing-sync-service/internal/models"
	"listing-sync-service/internal/stock"
)

func stockLevel(available int) *models.StockLevel {
	return &models.StockLevel{Available: available}
}

func TestAdjustAppliesDelta(t *testing.T) {
	api := new(MockStockLevelAPI)
	writer := stock.NewSafeWriter(api, 1001, 2001)

	api.On("GetLevel", mock.Anything, int64(1001), int64(2001)).Return(stockLevel(10), nil)
	api.On("AdjustAvailable", mock.Anything, int64(1001), int64(2001), -3).Return(nil)

	result := writer.Adjust(context.Background(), -3, nil)

	require.True(t, result.Success)
	assert.Equal(t, 10, result.Previous)
	assert.Equal(t, 7, result.New)
	api.AssertExpectations(t)
}

func TestAdjustRefusesStaleRead(t *testing.T) {
	api := new(MockStockLevelAPI)
	writer := stock.NewSafeWriter(api, 1001, 2001)

	// Reconciler read 10, but a sale decremented to 9 in between
	api.On("GetLevel", mock.Anything, int64(1001), int64(2001)).Return(stockLevel(9), nil)

	expected := 10
	result := writer.Adjust(context.Background(), -3, &expected)

	assert.False(t, result.Success)
	assert.True(t, result.Stale)
	assert.Equal(t, 9, result.Previous)
	assert.True(t, models.IsStaleData(result.Err))
	api.AssertNotCalled(t, "AdjustAvailable", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdjustRefusesNegativeResult(t *testing.T) {
	api := new(MockStockLevelAPI)
	writer := stock.NewSafeWriter(api, 1001, 2001)

	api.On("GetLevel", mock.Anything, int64(1001), int64(2001)).Return(stockLevel(2), nil)

	result := writer.Adjust(context.Background(), -5, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Previous)
	assert.True(t, models.IsInsufficientInventory(result.Err))
	api.AssertNotCalled(t, "AdjustAvailable", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdjustPropagatesReadFailure(t *testing.T) {
	api := new(MockStockLevelAPI)
	writer := stock.NewSafeWriter(api, 1001, 2001)

	api.On("GetLevel", mock.Anything, int64(1001), int64(2001)).Return(nil, errors.New("gateway timeout"))

	result := writer.Adjust(context.Background(), 1, nil)

	assert.False(t, result.Success)
	assert.Error(t, result.Err)
}

func TestAdjustFailsWhenLevelUntracked(t *testing.T) {
	api := new(MockStockLevelAPI)
	writer := stock.NewSafeWriter(api, 1001, 2001)

	api.On("GetLevel", mock.Anything, int64(1001), int64(2001)).Return(nil, nil)

	result := writer.Adjust(context.Background(), 1, nil)

	assert.False(t, result.Success)
	assert.Error(t, result.Err)
}

func TestSetWritesAbsoluteLevel(t *testing.T) {
	api := new(MockStockLevelAPI)
	writer := stock.NewSafeWriter(api, 1001, 2001)

	api.On("GetLevel", mock.Anything, int64(1001), int64(2001)).Return(stockLevel(4), nil)
	api.On("SetAvailable", mock.Anything, int64(1001), int64(2001), 12).Return(nil)

	expected := 4
	result := writer.Set(context.Background(), 12, &expected)

	require.True(t, result.Success)
	assert.Equal(t, 4, result.Previous)
	assert.Equal(t, 12, result.New)
}

func TestSetRefusesStaleRead(t *testing.T) {
	api := new(MockStockLevelAPI)
	writer := stock.NewSafeWriter(api, 1001, 2001)

	api.On("GetLevel", mock.Anything, int64(1001), int64(2001)).Return(stockLevel(7), nil)

	expected := 4
	result := writer.Set(context.Background(), 12, &expected)

	assert.True(t, result.Stale)
	assert.True(t, models.IsStaleData(result.Err))
	api.AssertNotCalled(t, "SetAvailable", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSetRefusesNegativeLevel(t *testing.T) {
	api := new(MockStockLevelAPI)
	writer := stock.NewSafeWriter(api, 1001, 2001)

	result := writer.Set(context.Background(), -1, nil)

	assert.False(t, result.Success)
	assert.True(t, models.IsInsufficientInventory(result.Err))
	api.AssertNotCalled(t, "GetLevel", mock.Anything, mock.Anything, mock.Anything)
}

func TestSetTreatsUntrackedLevelAsZero(t *testing.T) {
	api := new(MockStockLevelAPI)
	writer := stock.NewSafeWriter(api, 1001, 2001)

	api.On("GetLevel", mock.Anything, int64(1001), int64(2001)).Return(nil, nil)
	api.On("SetAvailable", mock.Anything, int64(1001), int64(2001), 5).Return(nil)

	result := writer.Set(context.Background(), 5, nil)

	require.True(t, result.Success)
	assert.Equal(t, 0, result.Previous)
	assert.Equal(t, 5, result.New)
}
