package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bookflow/internal/models"
)

const jobColumns = `id, job_type, ref, payload, status, retry_count, last_error, run_at, created_at, processed_at, next_retry_at`

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobPending
	}

	ts := now()
	query := `INSERT INTO jobs (job_type, ref, payload, status, retry_count, last_error, run_at, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		job.JobType,
		job.Ref,
		job.Payload,
		job.Status,
		job.RetryCount,
		job.LastError,
		job.RunAt.UTC(),
		ts,
		job.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = ts
	return nil
}

func (db *DB) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	job, err := scanJob(db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetDueJobs lists pending jobs whose run_at has passed and retries whose
// backoff has elapsed.
func (db *DB) GetDueJobs(ctx context.Context, at time.Time, limit int) ([]models.Job, error) {
	at = at.UTC()
	query := `SELECT ` + jobColumns + `
              FROM jobs
              WHERE (status = 'pending' AND run_at <= ?)
                 OR (status = 'retry' AND (next_retry_at IS NULL OR next_retry_at <= ?))
              ORDER BY run_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, at, at, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func scanJob(row interface{ Scan(...interface{}) error }) (*models.Job, error) {
	var (
		j                  models.Job
		processed, nextTry sql.NullTime
	)
	err := row.Scan(&j.ID, &j.JobType, &j.Ref, &j.Payload, &j.Status, &j.RetryCount, &j.LastError,
		&j.RunAt, &j.CreatedAt, &processed, &nextTry)
	if err != nil {
		return nil, err
	}
	j.ProcessedAt = timePtr(processed)
	j.NextRetryAt = timePtr(nextTry)
	return &j, nil
}

// ClaimJob moves a pending or retry job to running. Exactly one caller wins.
func (db *DB) ClaimJob(ctx context.Context, id int64) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status IN (?, ?)`,
		models.JobRunning, id, models.JobPending, models.JobRetry)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return rowsChanged(res)
}

func (db *DB) UpdateJobStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	ts := now()

	var lastErr interface{}
	if errMsg != "" {
		lastErr = errMsg
	}
	if nextRetryAt != nil {
		utc := nextRetryAt.UTC()
		nextRetryAt = &utc
	}

	switch status {
	case models.JobRetry:
		query = `UPDATE jobs SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastErr, nextRetryAt, id}
	case models.JobCompleted, models.JobFailed, models.JobCanceled:
		query = `UPDATE jobs SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, nextRetryAt, ts, id}
	default:
		query = `UPDATE jobs SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// CancelJobs cancels every not yet started job of the given type and ref and
// returns their ids. An empty jobType matches all types.
func (db *DB) CancelJobs(ctx context.Context, jobType, ref string) ([]int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM jobs WHERE ref = ? AND (? = '' OR job_type = ?) AND status IN ('pending', 'retry')`,
		ref, jobType, jobType)
	if err != nil {
		return nil, fmt.Errorf("failed to find jobs: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ts := now()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, processed_at = ? WHERE id = ?`, models.JobCanceled, ts, id); err != nil {
			return nil, fmt.Errorf("failed to cancel job %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancel: %w", err)
	}
	return ids, nil
}
