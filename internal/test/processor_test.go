package test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"listing-sync-service/internal/httpclient"
	"listing-sync-service/internal/locks"
	"listing-sync-service/internal/models"
	"listing-sync-service/internal/sync"
)

type processorFixture struct {
	jobs      *MockJobRepository
	units     *MockUnitRepository
	lockRepo  *MockLockRepository
	adapter   *MockMarketplaceAdapter
	tokens    *MockTokenProvider
	publisher *MockResultPublisher
	circuit   *httpclient.CircuitBreaker
	processor *sync.Processor
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		jobs:      new(MockJobRepository),
		units:     new(MockUnitRepository),
		lockRepo:  new(MockLockRepository),
		adapter:   new(MockMarketplaceAdapter),
		tokens:    new(MockTokenProvider),
		publisher: new(MockResultPublisher),
		circuit:   httpclient.NewCircuitBreaker(5, time.Minute),
	}

	f.processor = sync.NewProcessor(
		f.jobs, f.units, locks.NewManager(f.lockRepo), nil,
		f.adapter, f.tokens, f.circuit, f.publisher, nil,
		sync.Options{
			BatchSize:       10,
			JobDelay:        0,
			PollInterval:    time.Second,
			LockTimeout:     time.Minute,
			RetryBackoffCap: 60 * time.Minute,
			MarketplaceEnv:  "sandbox",
			InstanceID:      "test-instance",
		})

	return f
}

// expectDrain wires the drain lock and batch dequeue for one pass
func (f *processorFixture) expectDrain(batch []models.SyncJob) {
	f.jobs.On("TryAcquireDrainLock", mock.Anything, mock.AnythingOfType("int64")).Return(true, nil)
	f.jobs.On("ReleaseDrainLock", mock.Anything, mock.AnythingOfType("int64")).Return(nil)
	f.jobs.On("DequeueBatch", mock.Anything, 10).Return(batch, nil)
}

// expectFreeLocks makes lock filtering and acquisition succeed for all SKUs
func (f *processorFixture) expectFreeLocks() {
	f.lockRepo.On("SelectActive", mock.Anything, mock.Anything, mock.Anything).Return([]models.InventoryLock{}, nil)
	f.lockRepo.On("InsertLocks", mock.Anything, mock.Anything).Return(1, []string{}, nil)
	f.lockRepo.On("DeleteByBatch", mock.Anything, mock.Anything).Return(1, nil)
}

func createJob(sku, account string, quantity int) models.SyncJob {
	payload, _ := json.Marshal(models.CreateListingPayload{
		Title: "Test Card", Price: 99.99, Quantity: quantity,
	})
	return models.SyncJob{
		ID:         uuid.New(),
		Action:     models.ActionCreate,
		SKU:        sku,
		StoreKey:   "store-1",
		AccountRef: account,
		Payload:    payload,
		Status:     models.SyncStatusQueued,
		MaxRetries: 3,
	}
}

func gradedUnit(sku string, status models.UnitStatus) *models.InventoryUnit {
	cert := "PSA-12345678"
	company := "PSA"
	grade := "10"
	return &models.InventoryUnit{
		SKU:            sku,
		StoreKey:       "store-1",
		Status:         status,
		QuantityHint:   1,
		CertNumber:     &cert,
		GradingCompany: &company,
		Grade:          &grade,
	}
}

func TestProcessBatchSkipsSoldGradedUnit(t *testing.T) {
	f := newProcessorFixture()
	job := createJob("SKU-1", "acct-1", 1)

	f.expectDrain([]models.SyncJob{job})
	f.expectFreeLocks()
	f.tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("tok", nil)
	f.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(true, nil)
	f.units.On("GetUnit", mock.Anything, "SKU-1", "store-1").Return(gradedUnit("SKU-1", models.UnitStatusSold), nil)
	f.jobs.On("MarkCompleted", mock.Anything, job.ID, models.OutcomeSkippedSold).Return(true, nil)
	f.publisher.On("PublishResult", mock.Anything, mock.MatchedBy(func(e *models.SyncResultEvent) bool {
		return e.Outcome == models.OutcomeSkippedSold && e.JobID == job.ID
	})).Return(nil)

	processed, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	f.adapter.AssertNotCalled(t, "CreateListing", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.jobs.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestProcessBatchClampsGradedQuantityAndPublishesViolation(t *testing.T) {
	f := newProcessorFixture()
	job := createJob("SKU-1", "acct-1", 5) // payload claims 5 of a one-of-one

	f.expectDrain([]models.SyncJob{job})
	f.expectFreeLocks()
	f.tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("tok", nil)
	f.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(true, nil)
	f.units.On("GetUnit", mock.Anything, "SKU-1", "store-1").Return(gradedUnit("SKU-1", models.UnitStatusAvailable), nil)
	f.publisher.On("PublishInvariantViolation", mock.Anything, mock.MatchedBy(func(e *models.InvariantViolationEvent) bool {
		return e.Expected == 1 && e.Actual == 5
	})).Return(nil)
	f.adapter.On("CreateListing", mock.Anything, "tok", "SKU-1", mock.Anything, 1).Return("LST-1", nil)
	f.units.On("SetListingID", mock.Anything, "SKU-1", "store-1", "LST-1", "acct-1").Return(nil)
	f.units.On("ClearSyncError", mock.Anything, "SKU-1", "store-1").Return(nil)
	f.jobs.On("MarkCompleted", mock.Anything, job.ID, "").Return(true, nil)
	f.publisher.On("PublishResult", mock.Anything, mock.MatchedBy(func(e *models.SyncResultEvent) bool {
		return e.Outcome == models.OutcomeCompleted && e.ListingID == "LST-1"
	})).Return(nil)

	processed, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	f.adapter.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestProcessBatchProvisionsUnknownUnit(t *testing.T) {
	f := newProcessorFixture()
	job := createJob("SKU-NEW", "acct-1", 1)

	provisioned := &models.InventoryUnit{
		SKU: "SKU-NEW", StoreKey: "store-1",
		Status: models.UnitStatusAvailable, QuantityHint: 1,
	}

	f.expectDrain([]models.SyncJob{job})
	f.expectFreeLocks()
	f.tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("tok", nil)
	f.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(true, nil)
	f.units.On("GetUnit", mock.Anything, "SKU-NEW", "store-1").Return(nil, nil)
	f.units.On("ProvisionUnit", mock.Anything, "SKU-NEW", "store-1").Return(provisioned, nil)
	f.adapter.On("CreateListing", mock.Anything, "tok", "SKU-NEW", mock.Anything, 1).Return("LST-9", nil)
	f.units.On("SetListingID", mock.Anything, "SKU-NEW", "store-1", "LST-9", "acct-1").Return(nil)
	f.units.On("ClearSyncError", mock.Anything, "SKU-NEW", "store-1").Return(nil)
	f.jobs.On("MarkCompleted", mock.Anything, job.ID, "").Return(true, nil)
	f.publisher.On("PublishResult", mock.Anything, mock.Anything).Return(nil)

	processed, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	f.units.AssertExpectations(t)
}

func TestProcessBatchSkipsLockedSkus(t *testing.T) {
	f := newProcessorFixture()
	job := createJob("SKU-LOCKED", "acct-1", 1)

	f.expectDrain([]models.SyncJob{job})
	f.lockRepo.On("SelectActive", mock.Anything, mock.Anything, "store-1").Return([]models.InventoryLock{
		{SKU: "SKU-LOCKED", StoreKey: "store-1", LockType: models.LockTypeBulkTransfer, LockedBy: "warehouse", ExpiresAt: time.Now().Add(time.Hour)},
	}, nil)

	processed, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	// Job stays queued: never claimed, never failed
	f.jobs.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything)
	f.adapter.AssertNotCalled(t, "CreateListing", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessBatchAuthFailureShortCircuitsAccount(t *testing.T) {
	f := newProcessorFixture()
	jobA := createJob("SKU-A", "acct-bad", 1)
	jobB := createJob("SKU-B", "acct-bad", 1)

	authErr := &models.AuthFailureError{AccountRef: "acct-bad", Cause: context.DeadlineExceeded}

	f.expectDrain([]models.SyncJob{jobA, jobB})
	f.expectFreeLocks()
	f.tokens.On("GetToken", mock.Anything, "acct-bad", "sandbox").Return("", authErr)
	f.jobs.On("MarkProcessing", mock.Anything, mock.Anything).Return(true, nil)
	f.jobs.On("MarkFailed", mock.Anything, jobA.ID, mock.Anything, mock.Anything).Return(false, nil)
	f.jobs.On("MarkFailed", mock.Anything, jobB.ID, mock.Anything, mock.Anything).Return(false, nil)
	f.publisher.On("PublishResult", mock.Anything, mock.MatchedBy(func(e *models.SyncResultEvent) bool {
		return e.Outcome == models.OutcomeFailed
	})).Return(nil).Times(2)

	_, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	f.adapter.AssertNotCalled(t, "CreateListing", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.jobs.AssertExpectations(t)
}

func TestProcessBatchRetryableFailureRequeues(t *testing.T) {
	f := newProcessorFixture()
	job := createJob("SKU-1", "acct-1", 1)

	serverErr := &models.HTTPError{Status: 503, Body: "unavailable"}

	f.expectDrain([]models.SyncJob{job})
	f.expectFreeLocks()
	f.tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("tok", nil)
	f.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(true, nil)
	f.units.On("GetUnit", mock.Anything, "SKU-1", "store-1").Return(gradedUnit("SKU-1", models.UnitStatusAvailable), nil)
	f.adapter.On("CreateListing", mock.Anything, "tok", "SKU-1", mock.Anything, 1).Return("", serverErr)
	f.jobs.On("MarkFailed", mock.Anything, job.ID, mock.Anything, 60*time.Minute).Return(false, nil)
	f.publisher.On("PublishResult", mock.Anything, mock.Anything).Return(nil)

	processed, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	f.jobs.AssertNotCalled(t, "MarkFailedTerminal", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.circuit.Failures("marketplace:acct-1"))
}

func TestProcessBatchClientErrorFailsTerminally(t *testing.T) {
	f := newProcessorFixture()
	job := createJob("SKU-1", "acct-1", 1)

	rejection := &models.HTTPError{Status: 422, Body: "invalid category"}

	f.expectDrain([]models.SyncJob{job})
	f.expectFreeLocks()
	f.tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("tok", nil)
	f.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(true, nil)
	f.units.On("GetUnit", mock.Anything, "SKU-1", "store-1").Return(gradedUnit("SKU-1", models.UnitStatusAvailable), nil)
	f.adapter.On("CreateListing", mock.Anything, "tok", "SKU-1", mock.Anything, 1).Return("", rejection)
	f.jobs.On("MarkFailedTerminal", mock.Anything, job.ID, mock.Anything).Return(true, nil)
	f.units.On("SetSyncError", mock.Anything, "SKU-1", "store-1", mock.Anything).Return(nil)
	f.publisher.On("PublishResult", mock.Anything, mock.Anything).Return(nil)

	_, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	f.jobs.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.units.AssertExpectations(t)
}

func TestProcessBatchOpenCircuitDefersJob(t *testing.T) {
	f := newProcessorFixture()
	job := createJob("SKU-1", "acct-1", 1)

	// Trip the breaker for this account before the batch runs
	for i := 0; i < 5; i++ {
		f.circuit.Report("marketplace:acct-1", false)
	}

	f.expectDrain([]models.SyncJob{job})
	f.expectFreeLocks()
	f.tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("tok", nil)
	f.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(true, nil)
	f.units.On("GetUnit", mock.Anything, "SKU-1", "store-1").Return(gradedUnit("SKU-1", models.UnitStatusAvailable), nil)
	f.jobs.On("MarkFailed", mock.Anything, job.ID, mock.Anything, mock.Anything).Return(false, nil)
	f.publisher.On("PublishResult", mock.Anything, mock.Anything).Return(nil)

	_, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	f.adapter.AssertNotCalled(t, "CreateListing", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.jobs.AssertExpectations(t)
}

func TestProcessBatchDeleteClearsListing(t *testing.T) {
	f := newProcessorFixture()

	payload, _ := json.Marshal(models.DeleteListingPayload{ListingID: "LST-7"})
	job := models.SyncJob{
		ID: uuid.New(), Action: models.ActionDelete,
		SKU: "SKU-1", StoreKey: "store-1", AccountRef: "acct-1",
		Payload: payload, Status: models.SyncStatusQueued, MaxRetries: 3,
	}

	f.expectDrain([]models.SyncJob{job})
	f.expectFreeLocks()
	f.tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("tok", nil)
	f.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(true, nil)
	f.units.On("GetUnit", mock.Anything, "SKU-1", "store-1").Return(gradedUnit("SKU-1", models.UnitStatusSold), nil)
	f.adapter.On("DeleteListing", mock.Anything, "tok", "LST-7").Return(nil)
	f.units.On("ClearListingID", mock.Anything, "SKU-1", "store-1").Return(nil)
	f.units.On("ClearSyncError", mock.Anything, "SKU-1", "store-1").Return(nil)
	f.jobs.On("MarkCompleted", mock.Anything, job.ID, "").Return(true, nil)
	f.publisher.On("PublishResult", mock.Anything, mock.Anything).Return(nil)

	processed, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	f.adapter.AssertExpectations(t)
	f.units.AssertExpectations(t)
}

func TestProcessBatchYieldsWhenDrainLockHeld(t *testing.T) {
	f := newProcessorFixture()
	f.jobs.On("TryAcquireDrainLock", mock.Anything, mock.AnythingOfType("int64")).Return(false, nil)

	processed, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	f.jobs.AssertNotCalled(t, "DequeueBatch", mock.Anything, mock.Anything)
}

func TestProcessBatchSkipsJobClaimedElsewhere(t *testing.T) {
	f := newProcessorFixture()
	job := createJob("SKU-1", "acct-1", 1)

	f.expectDrain([]models.SyncJob{job})
	f.expectFreeLocks()
	f.tokens.On("GetToken", mock.Anything, "acct-1", "sandbox").Return("tok", nil)
	f.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(false, nil)

	processed, err := f.processor.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	f.units.AssertNotCalled(t, "GetUnit", mock.Anything, mock.Anything, mock.Anything)
}
