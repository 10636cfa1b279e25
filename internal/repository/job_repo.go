package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/models"
)

// JobRepository handles the durable sync job queue in Postgres
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue inserts a new queued job. The queue position is assigned by the
// database sequence so ordering is monotonic across writers.
func (r *JobRepository) Enqueue(ctx context.Context, job *models.SyncJob) error {
	query := `
		INSERT INTO sync_job (id, action, sku, store_key, account_ref, payload, status, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, NOW())
		RETURNING queue_position, created_at
	`

	row := r.db.QueryRowxContext(ctx, query,
		job.ID, job.Action, job.SKU, job.StoreKey, job.AccountRef,
		[]byte(job.Payload), models.SyncStatusQueued, job.MaxRetries)

	if err := row.Scan(&job.QueuePosition, &job.CreatedAt); err != nil {
		log.Error().Err(err).Str("sku", job.SKU).Msg("Failed to enqueue sync job")
		return fmt.Errorf("failed to enqueue sync job: %w", err)
	}

	job.Status = models.SyncStatusQueued

	log.Debug().
		Str("job_id", job.ID.String()).
		Str("action", string(job.Action)).
		Str("sku", job.SKU).
		Int64("queue_position", job.QueuePosition).
		Msg("Enqueued sync job")

	return nil
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(ctx context.Context, jobID uuid.UUID) (*models.SyncJob, error) {
	var job models.SyncJob
	query := `SELECT id, action, sku, store_key, account_ref, payload, status, retry_count, max_retries,
	                 queue_position, annotation, error_message, retry_after, created_at, started_at, completed_at
	          FROM sync_job WHERE id = $1`

	err := r.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to get sync job")
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}

	return &job, nil
}

// DequeueBatch fetches queued jobs in FIFO order (queue_position ascending),
// excluding jobs whose retry_after has not yet elapsed. FOR UPDATE SKIP
// LOCKED keeps concurrent drainers from selecting the same rows.
func (r *JobRepository) DequeueBatch(ctx context.Context, limit int) ([]models.SyncJob, error) {
	query := `
		SELECT id, action, sku, store_key, account_ref, payload, status, retry_count, max_retries,
		       queue_position, annotation, error_message, retry_after, created_at, started_at, completed_at
		FROM sync_job
		WHERE status = $1
		  AND (retry_after IS NULL OR retry_after <= NOW())
		ORDER BY queue_position ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Error().Err(err).Msg("Failed to rollback transaction")
		}
	}()

	rows, err := tx.QueryxContext(ctx, query, models.SyncStatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.SyncJob
	for rows.Next() {
		var job models.SyncJob
		if err := rows.StructScan(&job); err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync job rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Debug().Int("count", len(jobs)).Msg("Dequeued sync job batch")
	return jobs, nil
}

// MarkProcessing transitions a job queued -> processing. The conditional
// WHERE keeps a job another instance already claimed from being claimed
// twice; the false return means the job was not in queued state.
func (r *JobRepository) MarkProcessing(ctx context.Context, jobID uuid.UUID) (bool, error) {
	query := `
		UPDATE sync_job
		SET status = $2, started_at = NOW()
		WHERE id = $1 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, jobID, models.SyncStatusProcessing, models.SyncStatusQueued)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to mark job processing")
		return false, fmt.Errorf("failed to mark job processing: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rowsAffected == 1, nil
}

// MarkCompleted transitions a job processing -> completed with an optional
// annotation ("skipped: sold" marks the expected no-op on sold units).
// Calling it twice for the same job is safe: the second call matches no row.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID uuid.UUID, annotation string) (bool, error) {
	query := `
		UPDATE sync_job
		SET status = $2, completed_at = NOW(), annotation = NULLIF($3, ''), error_message = NULL
		WHERE id = $1 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, jobID, models.SyncStatusCompleted, annotation, models.SyncStatusProcessing)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to mark job completed")
		return false, fmt.Errorf("failed to mark job completed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rowsAffected == 0 {
		log.Warn().Str("job_id", jobID.String()).Msg("Job was not in processing state when completing")
		return false, nil
	}

	return true, nil
}

// NextRetry decides the outcome of one job failure. Jobs under the retry
// budget wait 2^(retryCount+1) minutes before re-dequeue, doubling per
// failure up to backoffCap; jobs at or past the budget are terminal. The
// delay is strictly increasing until it hits the cap.
func NextRetry(retryCount, maxRetries int, backoffCap time.Duration) (delay time.Duration, terminal bool) {
	if retryCount >= maxRetries {
		return 0, true
	}
	if backoffCap < time.Minute {
		backoffCap = time.Minute
	}
	// 1<<31 minutes already dwarfs any cap; avoid shift overflow
	if retryCount > 30 {
		return backoffCap, false
	}
	delay = time.Duration(1<<uint(retryCount+1)) * time.Minute
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay, false
}

// MarkFailed records a failure: jobs under the retry budget return to queued
// with a capped exponential retry_after, jobs past it become terminally
// failed. The row is locked for the decision so duplicate deliveries cannot
// double-increment the counter.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID uuid.UUID, errMsg string, backoffCap time.Duration) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Error().Err(err).Msg("Failed to rollback transaction")
		}
	}()

	var retryCount, maxRetries int
	selectQuery := `SELECT retry_count, max_retries FROM sync_job WHERE id = $1 AND status = $2 FOR UPDATE`
	err = tx.QueryRowxContext(ctx, selectQuery, jobID, models.SyncStatusProcessing).Scan(&retryCount, &maxRetries)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Warn().Str("job_id", jobID.String()).Msg("Job was not in processing state when failing")
			return false, nil
		}
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to read job retry state")
		return false, fmt.Errorf("failed to read job retry state: %w", err)
	}

	delay, terminal := NextRetry(retryCount, maxRetries, backoffCap)

	if terminal {
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_job
			SET status = $2, completed_at = NOW(), retry_after = NULL,
			    retry_count = retry_count + 1, error_message = $3
			WHERE id = $1
		`, jobID, models.SyncStatusFailed, errMsg)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_job
			SET status = $2, retry_after = NOW() + $3 * INTERVAL '1 second',
			    retry_count = retry_count + 1, error_message = $4
			WHERE id = $1
		`, jobID, models.SyncStatusQueued, delay.Seconds(), errMsg)
	}
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to mark job failed")
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if terminal {
		log.Warn().
			Str("job_id", jobID.String()).
			Str("error", errMsg).
			Msg("Job failed terminally, retries exhausted")
	} else {
		log.Info().
			Str("job_id", jobID.String()).
			Str("error", errMsg).
			Msg("Job re-queued for retry")
	}

	return terminal, nil
}

// MarkFailedTerminal fails a job immediately regardless of remaining retry
// budget. Non-retryable errors (validation, 4xx rejections) land here so they
// do not burn pointless retry cycles.
func (r *JobRepository) MarkFailedTerminal(ctx context.Context, jobID uuid.UUID, errMsg string) (bool, error) {
	query := `
		UPDATE sync_job
		SET status = $2, completed_at = NOW(), retry_after = NULL, error_message = $3
		WHERE id = $1 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, jobID, models.SyncStatusFailed, errMsg, models.SyncStatusProcessing)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to mark job terminally failed")
		return false, fmt.Errorf("failed to mark job terminally failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rowsAffected == 1 {
		log.Warn().
			Str("job_id", jobID.String()).
			Str("error", errMsg).
			Msg("Job failed terminally, error is not retryable")
	}

	return rowsAffected == 1, nil
}

// TryAcquireDrainLock attempts to acquire a PostgreSQL advisory lock so only
// one reconciler instance drains the queue at a time
func (r *JobRepository) TryAcquireDrainLock(ctx context.Context, lockKey int64) (bool, error) {
	var acquired bool
	query := "SELECT pg_try_advisory_lock($1)"

	err := r.db.QueryRowContext(ctx, query, lockKey).Scan(&acquired)
	if err != nil && err != sql.ErrNoRows {
		log.Error().Err(err).Int64("lock_key", lockKey).Msg("Failed to acquire drain lock")
		return false, fmt.Errorf("failed to acquire drain lock: %w", err)
	}

	if acquired {
		log.Debug().Int64("lock_key", lockKey).Msg("Acquired queue drain lock")
	} else {
		log.Debug().Int64("lock_key", lockKey).Msg("Drain lock held by another instance")
	}

	return acquired, nil
}

// ReleaseDrainLock releases the PostgreSQL advisory lock
func (r *JobRepository) ReleaseDrainLock(ctx context.Context, lockKey int64) error {
	query := "SELECT pg_advisory_unlock($1)"

	var released bool
	err := r.db.QueryRowContext(ctx, query, lockKey).Scan(&released)
	if err != nil {
		log.Error().Err(err).Int64("lock_key", lockKey).Msg("Failed to release drain lock")
		return fmt.Errorf("failed to release drain lock: %w", err)
	}

	if !released {
		log.Warn().Int64("lock_key", lockKey).Msg("Drain lock was not held when trying to release")
	}

	return nil
}
