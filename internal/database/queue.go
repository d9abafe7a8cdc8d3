package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studiobook/internal/models"
)

// Credential task types.
const (
	TaskProvision = "provision"
	TaskRevoke    = "revoke"
)

// CredentialTask is a queued lock-gateway operation awaiting retry.
type CredentialTask struct {
	ID          int64
	TaskType    string
	BookingID   int64
	Status      string
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	NextRetryAt time.Time
}

// EnqueueCredentialTask records a failed gateway operation for the
// reconciler. A pending task of the same type for the same booking is not
// duplicated.
func (db *DB) EnqueueCredentialTask(ctx context.Context, taskType string, bookingID int64, lastErr string) error {
	var existing int64
	err := db.QueryRowContext(ctx, `
		SELECT id FROM credential_queue
		WHERE booking_id = ? AND task_type = ? AND status = 'pending'`,
		bookingID, taskType,
	).Scan(&existing)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check existing task: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO credential_queue (task_type, booking_id, status, last_error, created_at, next_retry_at)
		VALUES (?, ?, 'pending', ?, ?, ?)`,
		taskType, bookingID, lastErr, time.Now(), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// DueCredentialTasks returns pending tasks whose retry time has passed.
func (db *DB) DueCredentialTasks(ctx context.Context, now time.Time, limit int) ([]CredentialTask, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, task_type, booking_id, status, retry_count, last_error, created_at, next_retry_at
		FROM credential_queue
		WHERE status = 'pending' AND next_retry_at <= ?
		ORDER BY next_retry_at
		LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []CredentialTask
	for rows.Next() {
		var t CredentialTask
		var lastErr sql.NullString
		var nextRetry sql.NullTime
		if err := rows.Scan(&t.ID, &t.TaskType, &t.BookingID, &t.Status,
			&t.RetryCount, &lastErr, &t.CreatedAt, &nextRetry); err != nil {
			return nil, err
		}
		t.LastError = lastErr.String
		if nextRetry.Valid {
			t.NextRetryAt = nextRetry.Time
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CompleteCredentialTask marks a task as done.
func (db *DB) CompleteCredentialTask(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE credential_queue SET status = 'done', processed_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	return err
}

// FailCredentialTask records a failed attempt. Transient failures are
// rescheduled with exponential backoff up to maxAttempts; permanent failures
// and exhausted tasks are parked as 'failed' for operator attention.
func (db *DB) FailCredentialTask(ctx context.Context, task *CredentialTask, cause error, maxAttempts int) error {
	retries := task.RetryCount + 1
	if retries >= maxAttempts || !models.IsTransientCredentialError(cause) {
		_, err := db.ExecContext(ctx, `
			UPDATE credential_queue
			SET status = 'failed', retry_count = ?, last_error = ?, processed_at = ?
			WHERE id = ?`,
			retries, cause.Error(), time.Now(), task.ID,
		)
		return err
	}

	backoff := time.Duration(1<<uint(retries)) * time.Minute
	_, err := db.ExecContext(ctx, `
		UPDATE credential_queue
		SET retry_count = ?, last_error = ?, next_retry_at = ?
		WHERE id = ?`,
		retries, cause.Error(), time.Now().Add(backoff), task.ID,
	)
	return err
}
