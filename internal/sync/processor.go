package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/httpclient"
	"listing-sync-service/internal/interfaces"
	"listing-sync-service/internal/locks"
	"listing-sync-service/internal/models"
)

// drainLockKey is the advisory lock key shared by every reconciler instance.
// Whoever holds it drains the queue; everyone else skips the tick.
const drainLockKey int64 = 932471001

// ErrBadPayload marks a job whose stored payload no longer decodes or
// validates. These fail terminally: re-running the same bytes cannot help.
var ErrBadPayload = errors.New("malformed job payload")

// Options tunes the reconciliation processor
type Options struct {
	BatchSize         int
	JobDelay          time.Duration
	PollInterval      time.Duration
	LockTimeout       time.Duration
	RetryBackoffCap   time.Duration
	ProcessingTimeout time.Duration
	MarketplaceEnv    string
	InstanceID        string
}

// Processor drains the sync job queue and reconciles each job against the
// marketplace. Exactly one instance drains at a time (advisory lock); jobs
// run in FIFO order grouped by account, each under an inventory lock on its
// SKU, with the unit re-read from the store of record before any external
// call.
type Processor struct {
	jobs      interfaces.JobRepository
	units     interfaces.UnitRepository
	locks     *locks.Manager
	cache     interfaces.CacheRepository
	adapter   interfaces.MarketplaceAdapter
	tokens    interfaces.TokenProvider
	circuit   *httpclient.CircuitBreaker
	publisher interfaces.ResultPublisher
	content   interfaces.ContentBuilder
	opts      Options
}

// NewProcessor creates a reconciliation processor
func NewProcessor(
	jobs interfaces.JobRepository,
	units interfaces.UnitRepository,
	lockMgr *locks.Manager,
	cache interfaces.CacheRepository,
	adapter interfaces.MarketplaceAdapter,
	tokens interfaces.TokenProvider,
	circuit *httpclient.CircuitBreaker,
	publisher interfaces.ResultPublisher,
	content interfaces.ContentBuilder,
	opts Options,
) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = locks.DefaultTimeout
	}
	if opts.RetryBackoffCap <= 0 {
		opts.RetryBackoffCap = 60 * time.Minute
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = 2 * time.Minute
	}

	return &Processor{
		jobs:      jobs,
		units:     units,
		locks:     lockMgr,
		cache:     cache,
		adapter:   adapter,
		tokens:    tokens,
		circuit:   circuit,
		publisher: publisher,
		content:   content,
		opts:      opts,
	}
}

// Run drains the queue on every poll tick until the context is cancelled
func (p *Processor) Run(ctx context.Context) {
	log.Info().
		Str("instance_id", p.opts.InstanceID).
		Dur("poll_interval", p.opts.PollInterval).
		Int("batch_size", p.opts.BatchSize).
		Msg("Reconciliation processor started")

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconciliation processor stopped")
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, p.opts.ProcessingTimeout)
			if _, err := p.ProcessBatch(batchCtx); err != nil {
				log.Error().Err(err).Msg("Batch processing failed")
			}
			cancel()
		}
	}
}

// ProcessBatch drains one batch of queued jobs. Returns the number of jobs
// it settled (completed, skipped, or failed). A zero return with nil error
// means either an empty queue or another instance holding the drain lock.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	acquired, err := p.jobs.TryAcquireDrainLock(ctx, drainLockKey)
	if err != nil {
		return 0, fmt.Errorf("drain lock acquisition failed: %w", err)
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := p.jobs.ReleaseDrainLock(ctx, drainLockKey); err != nil {
			log.Error().Err(err).Msg("Failed to release drain lock")
		}
	}()

	batch, err := p.jobs.DequeueBatch(ctx, p.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("dequeue failed: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	log.Info().Int("count", len(batch)).Msg("Draining sync job batch")

	// Group by account so one token fetch covers the account's jobs and an
	// auth outage on one account cannot stall the others. Order within each
	// group stays FIFO.
	accounts, grouped := groupByAccount(batch)

	processed := 0
	for _, accountRef := range accounts {
		n, err := p.processAccountJobs(ctx, accountRef, grouped[accountRef])
		processed += n
		if err != nil {
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
			log.Error().Err(err).Str("account_ref", accountRef).Msg("Account batch failed")
		}
	}

	return processed, nil
}

// processAccountJobs runs one account's slice of the batch: filter out jobs
// whose SKUs carry foreign locks, take reconciliation locks on the rest,
// fetch the account token once, then work through the jobs in order.
func (p *Processor) processAccountJobs(ctx context.Context, accountRef string, jobs []models.SyncJob) (int, error) {
	runnable, batchIDs := p.lockRunnable(ctx, jobs)
	defer func() {
		for _, batchID := range batchIDs {
			if _, err := p.locks.ReleaseByBatch(ctx, batchID); err != nil {
				log.Error().Err(err).Str("batch_id", batchID.String()).Msg("Failed to release reconciliation locks")
			}
		}
	}()

	if len(runnable) == 0 {
		return 0, nil
	}

	token, err := p.tokens.GetToken(ctx, accountRef, p.opts.MarketplaceEnv)
	if err != nil {
		log.Error().Err(err).
			Str("account_ref", accountRef).
			Int("jobs", len(runnable)).
			Msg("Token acquisition failed, failing account's jobs for retry")
		return p.failAccountJobs(ctx, runnable, err), nil
	}

	processed := 0
	for i := range runnable {
		if i > 0 && p.opts.JobDelay > 0 {
			if err := sleepCtx(ctx, p.opts.JobDelay); err != nil {
				return processed, err
			}
		}

		job := &runnable[i]
		claimed, err := p.jobs.MarkProcessing(ctx, job.ID)
		if err != nil {
			return processed, err
		}
		if !claimed {
			log.Warn().Str("job_id", job.ID.String()).Msg("Job no longer queued, skipping")
			continue
		}

		p.settleJob(ctx, token, job)
		processed++
	}

	return processed, nil
}

// lockRunnable narrows the account's jobs to those whose SKUs are free of
// foreign locks and then acquires reconciliation locks on them. Jobs that
// cannot be locked stay queued for a later batch. Returns the runnable jobs
// plus the lock batch IDs to release afterwards.
func (p *Processor) lockRunnable(ctx context.Context, jobs []models.SyncJob) ([]models.SyncJob, []uuid.UUID) {
	byStore := make(map[string][]string)
	for i := range jobs {
		byStore[jobs[i].StoreKey] = append(byStore[jobs[i].StoreKey], jobs[i].SKU)
	}

	skip := make(map[string]bool)
	var batchIDs []uuid.UUID

	for storeKey, skus := range byStore {
		unlocked, locked, err := p.locks.FilterLocked(ctx, skus, storeKey)
		if err != nil {
			// Unknown lock state before external writes means locked
			log.Warn().Err(err).Str("store_key", storeKey).Msg("Lock check failed, deferring store's jobs")
			for _, sku := range skus {
				skip[storeKey+"|"+sku] = true
			}
			continue
		}
		for _, sku := range locked {
			skip[storeKey+"|"+sku] = true
		}
		if len(unlocked) == 0 {
			continue
		}

		result, err := p.locks.Acquire(ctx, unlocked, storeKey,
			models.LockTypeReconciliation, p.opts.InstanceID, p.opts.LockTimeout, "queue drain")
		if err != nil {
			log.Warn().Err(err).Str("store_key", storeKey).Msg("Lock acquisition failed, deferring store's jobs")
			for _, sku := range unlocked {
				skip[storeKey+"|"+sku] = true
			}
			continue
		}
		for _, sku := range result.FailedSkus {
			skip[storeKey+"|"+sku] = true
		}
		if result.AcquiredCount > 0 {
			batchIDs = append(batchIDs, result.BatchID)
		}
	}

	runnable := make([]models.SyncJob, 0, len(jobs))
	for i := range jobs {
		if skip[jobs[i].StoreKey+"|"+jobs[i].SKU] {
			continue
		}
		runnable = append(runnable, jobs[i])
	}

	return runnable, batchIDs
}

// failAccountJobs marks every remaining job failed-for-retry after a
// token acquisition failure. The jobs keep their retry budget semantics:
// repeated auth outages eventually exhaust them.
func (p *Processor) failAccountJobs(ctx context.Context, jobs []models.SyncJob, cause error) int {
	failed := 0
	for i := range jobs {
		job := &jobs[i]
		claimed, err := p.jobs.MarkProcessing(ctx, job.ID)
		if err != nil || !claimed {
			continue
		}
		terminal, err := p.jobs.MarkFailed(ctx, job.ID, cause.Error(), p.opts.RetryBackoffCap)
		if err != nil {
			log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to record auth failure on job")
			continue
		}
		if terminal {
			p.recordUnitError(ctx, job, cause)
		}
		p.publishResult(ctx, job, models.OutcomeFailed, "", cause)
		failed++
	}
	return failed
}

// settleJob runs one claimed job to a settled state: completed (possibly
// annotated "skipped: sold"), re-queued for retry, or terminally failed.
func (p *Processor) settleJob(ctx context.Context, token string, job *models.SyncJob) {
	annotation, listingID, err := p.processJob(ctx, token, job)
	if err == nil {
		if _, err := p.jobs.MarkCompleted(ctx, job.ID, annotation); err != nil {
			log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to mark job completed")
			return
		}
		outcome := models.OutcomeCompleted
		if annotation == models.OutcomeSkippedSold {
			outcome = models.OutcomeSkippedSold
		}
		p.publishResult(ctx, job, outcome, listingID, nil)
		return
	}

	var terminal bool
	if p.isTerminal(err) {
		t, markErr := p.jobs.MarkFailedTerminal(ctx, job.ID, err.Error())
		if markErr != nil {
			log.Error().Err(markErr).Str("job_id", job.ID.String()).Msg("Failed to mark job terminally failed")
			return
		}
		terminal = t
	} else {
		t, markErr := p.jobs.MarkFailed(ctx, job.ID, err.Error(), p.opts.RetryBackoffCap)
		if markErr != nil {
			log.Error().Err(markErr).Str("job_id", job.ID.String()).Msg("Failed to mark job failed")
			return
		}
		terminal = t
	}

	if terminal {
		p.recordUnitError(ctx, job, err)
	}

	log.Warn().Err(err).
		Str("job_id", job.ID.String()).
		Str("sku", job.SKU).
		Str("action", string(job.Action)).
		Bool("terminal", terminal).
		Msg("Sync job failed")

	p.publishResult(ctx, job, models.OutcomeFailed, "", err)
}

// isTerminal reports whether an error should consume the job outright
// instead of a retry slot. Marketplace 4xx rejections (except 429) and
// undecodable payloads re-fail identically on every attempt.
func (p *Processor) isTerminal(err error) bool {
	if errors.Is(err, ErrBadPayload) {
		return true
	}
	var httpErr *models.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 400 && httpErr.Status < 500 && httpErr.Status != 429
	}
	return false
}

// processJob performs the reconciliation for one job: re-read the unit,
// enforce the graded-unit quantity invariant, then call the marketplace
// through the circuit breaker. Returns the completion annotation and, for
// creates, the new listing ID.
func (p *Processor) processJob(ctx context.Context, token string, job *models.SyncJob) (string, string, error) {
	unit, err := p.units.GetUnit(ctx, job.SKU, job.StoreKey)
	if err != nil {
		return "", "", err
	}
	if unit == nil {
		// Unknown SKUs get a provisional available row rather than a dead
		// letter; the unique constraint keeps concurrent provisioning safe
		unit, err = p.units.ProvisionUnit(ctx, job.SKU, job.StoreKey)
		if err != nil {
			return "", "", err
		}
		p.invalidateUnit(unit.SKU, unit.StoreKey)
		log.Info().
			Str("sku", job.SKU).
			Str("store_key", job.StoreKey).
			Msg("Auto-provisioned inventory unit for sync job")
	}

	// Sold graded units must never be listed. Skipping is the correct
	// terminal state for the job, not an error.
	if unit.IsGraded() && unit.Status == models.UnitStatusSold && job.Action != models.ActionDelete {
		log.Info().
			Str("job_id", job.ID.String()).
			Str("sku", job.SKU).
			Str("action", string(job.Action)).
			Msg("Unit sold, skipping listing sync")
		return models.OutcomeSkippedSold, "", nil
	}

	circuitKey := "marketplace:" + job.AccountRef
	if !p.circuit.CanCall(circuitKey) {
		return "", "", &models.CircuitOpenError{Key: circuitKey}
	}

	var listingID string
	switch job.Action {
	case models.ActionCreate:
		listingID, err = p.createListing(ctx, token, job, unit)
	case models.ActionUpdate:
		err = p.updateListing(ctx, token, job, unit)
	case models.ActionDelete:
		err = p.deleteListing(ctx, token, job, unit)
	default:
		return "", "", fmt.Errorf("%w: unsupported action %q", ErrBadPayload, job.Action)
	}

	// Only outcomes of real marketplace calls feed the breaker
	if !errors.Is(err, ErrBadPayload) {
		p.circuit.Report(circuitKey, err == nil)
	}
	if err != nil {
		return "", "", err
	}

	if err := p.units.ClearSyncError(ctx, job.SKU, job.StoreKey); err != nil {
		log.Error().Err(err).Str("sku", job.SKU).Msg("Failed to clear unit sync error")
	}
	p.invalidateUnit(job.SKU, job.StoreKey)

	return "", listingID, nil
}

func (p *Processor) createListing(ctx context.Context, token string, job *models.SyncJob, unit *models.InventoryUnit) (string, error) {
	var payload models.CreateListingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	quantity := p.effectiveQuantity(ctx, job, unit, payload.Quantity)

	content := &payload
	if p.content != nil {
		content = p.content.Build(unit, &payload)
	}

	listingID, err := p.adapter.CreateListing(ctx, token, job.SKU, content, quantity)
	if err != nil {
		return "", err
	}

	if err := p.units.SetListingID(ctx, job.SKU, job.StoreKey, listingID, job.AccountRef); err != nil {
		log.Error().Err(err).Str("sku", job.SKU).Str("listing_id", listingID).Msg("Failed to persist listing id")
	}

	log.Info().
		Str("sku", job.SKU).
		Str("listing_id", listingID).
		Int("quantity", quantity).
		Msg("Created marketplace listing")

	return listingID, nil
}

func (p *Processor) updateListing(ctx context.Context, token string, job *models.SyncJob, unit *models.InventoryUnit) error {
	var payload models.UpdateListingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if payload.ListingID == "" {
		if unit.ListingID == nil || *unit.ListingID == "" {
			return fmt.Errorf("%w: update without listing id and unit has none", ErrBadPayload)
		}
		payload.ListingID = *unit.ListingID
	}

	payloadQty := unit.QuantityHint
	if payload.Quantity != nil {
		payloadQty = *payload.Quantity
	}
	quantity := p.effectiveQuantity(ctx, job, unit, payloadQty)

	if err := p.adapter.UpdateListing(ctx, token, &payload, quantity); err != nil {
		return err
	}

	log.Info().
		Str("sku", job.SKU).
		Str("listing_id", payload.ListingID).
		Int("quantity", quantity).
		Msg("Updated marketplace listing")

	return nil
}

func (p *Processor) deleteListing(ctx context.Context, token string, job *models.SyncJob, unit *models.InventoryUnit) error {
	var payload models.DeleteListingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	listingID := payload.ListingID
	if listingID == "" && unit.ListingID != nil {
		listingID = *unit.ListingID
	}
	if listingID == "" {
		// Nothing listed, nothing to delete
		log.Info().Str("sku", job.SKU).Msg("Delete job without listing id, nothing to end")
		return nil
	}

	if err := p.adapter.DeleteListing(ctx, token, listingID); err != nil {
		return err
	}

	if err := p.units.ClearListingID(ctx, job.SKU, job.StoreKey); err != nil {
		log.Error().Err(err).Str("sku", job.SKU).Msg("Failed to clear listing id")
	}

	log.Info().
		Str("sku", job.SKU).
		Str("listing_id", listingID).
		Msg("Ended marketplace listing")

	return nil
}

// effectiveQuantity resolves the quantity to send to the marketplace. For
// graded units the value comes from unit status alone; a payload that
// disagrees is a corrected invariant violation, published for alerting.
func (p *Processor) effectiveQuantity(ctx context.Context, job *models.SyncJob, unit *models.InventoryUnit, payloadQty int) int {
	quantity := unit.EffectiveQuantity(payloadQty)
	if unit.IsGraded() && payloadQty != quantity {
		log.Warn().
			Str("sku", job.SKU).
			Str("store_key", job.StoreKey).
			Int("payload_quantity", payloadQty).
			Int("effective_quantity", quantity).
			Msg("Graded unit quantity corrected from status")

		event := &models.InvariantViolationEvent{
			EventID:   uuid.New().String(),
			SKU:       job.SKU,
			StoreKey:  job.StoreKey,
			Expected:  quantity,
			Actual:    payloadQty,
			JobID:     job.ID,
			Timestamp: time.Now().UTC(),
		}
		if err := p.publisher.PublishInvariantViolation(ctx, event); err != nil {
			log.Error().Err(err).Str("sku", job.SKU).Msg("Failed to publish invariant violation")
		}
	}
	return quantity
}

func (p *Processor) publishResult(ctx context.Context, job *models.SyncJob, outcome, listingID string, cause error) {
	event := &models.SyncResultEvent{
		EventID:   uuid.New().String(),
		JobID:     job.ID,
		SKU:       job.SKU,
		StoreKey:  job.StoreKey,
		Action:    job.Action,
		Outcome:   outcome,
		ListingID: listingID,
		Timestamp: time.Now().UTC(),
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	if err := p.publisher.PublishResult(ctx, event); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to publish sync result")
	}
}

func (p *Processor) recordUnitError(ctx context.Context, job *models.SyncJob, cause error) {
	if err := p.units.SetSyncError(ctx, job.SKU, job.StoreKey, cause.Error()); err != nil {
		log.Error().Err(err).Str("sku", job.SKU).Msg("Failed to record unit sync error")
	}
	p.invalidateUnit(job.SKU, job.StoreKey)
}

// invalidateUnit drops the cached snapshot asynchronously so a slow cache
// cannot stall the drain loop
func (p *Processor) invalidateUnit(sku, storeKey string) {
	if p.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.cache.DeleteUnit(ctx, sku, storeKey); err != nil {
			log.Error().Err(err).Str("sku", sku).Msg("Failed to invalidate unit cache")
		}
	}()
}

func groupByAccount(jobs []models.SyncJob) ([]string, map[string][]models.SyncJob) {
	var order []string
	grouped := make(map[string][]models.SyncJob)
	for i := range jobs {
		ref := jobs[i].AccountRef
		if _, ok := grouped[ref]; !ok {
			order = append(order, ref)
		}
		grouped[ref] = append(grouped[ref], jobs[i])
	}
	return order, grouped
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
