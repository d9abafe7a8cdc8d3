package lock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/database"
	"studiobook/internal/models"
)

// QueueStore is the retry-queue surface the reconciler drains.
type QueueStore interface {
	DueCredentialTasks(ctx context.Context, now time.Time, limit int) ([]database.CredentialTask, error)
	CompleteCredentialTask(ctx context.Context, id int64) error
	FailCredentialTask(ctx context.Context, task *database.CredentialTask, cause error, maxAttempts int) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
}

// Reconciler retries failed lock-gateway operations on a schedule. It is
// idempotent and always safe to re-run, whether triggered by the timer or
// by an admin.
type Reconciler struct {
	manager     *Manager
	store       QueueStore
	interval    time.Duration
	maxAttempts int
	batchSize   int
	logger      zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewReconciler creates a reconciler draining the credential retry queue.
func NewReconciler(manager *Manager, store QueueStore, interval time.Duration, maxAttempts int, logger zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &Reconciler{
		manager:     manager,
		store:       store,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   50,
		logger:      logger.With().Str("component", "credential_reconciler").Logger(),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info().Dur("interval", r.interval).Msg("credential reconciler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("credential reconciler stopped by context")
			return
		case <-r.stopCh:
			r.logger.Info().Msg("credential reconciler stopped")
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.running {
		r.running = false
		close(r.stopCh)
	}
	r.mu.Unlock()
}

// RunNow forces an immediate reconciliation pass (admin-triggered sync).
func (r *Reconciler) RunNow(ctx context.Context) {
	r.logger.Info().Msg("manual reconciliation triggered")
	r.drain(ctx)
}

func (r *Reconciler) drain(ctx context.Context) {
	tasks, err := r.store.DueCredentialTasks(ctx, time.Now(), r.batchSize)
	if err != nil {
		r.logger.Error().Err(err).Msg("fetch due tasks")
		return
	}
	if len(tasks) == 0 {
		return
	}

	stats := struct{ done, failed, skipped int }{}
	for i := range tasks {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task := &tasks[i]
		switch r.processTask(ctx, task) {
		case taskDone:
			stats.done++
		case taskSkipped:
			stats.skipped++
		default:
			stats.failed++
		}
	}

	r.logger.Info().
		Int("total", len(tasks)).
		Int("done", stats.done).
		Int("failed", stats.failed).
		Int("skipped", stats.skipped).
		Msg("reconciliation pass finished")
}

type taskOutcome int

const (
	taskDone taskOutcome = iota
	taskFailed
	taskSkipped
)

func (r *Reconciler) processTask(ctx context.Context, task *database.CredentialTask) taskOutcome {
	booking, err := r.store.GetBooking(ctx, task.BookingID)
	if err != nil {
		r.logger.Error().Err(err).Int64("booking_id", task.BookingID).Msg("load booking for task")
		_ = r.store.FailCredentialTask(ctx, task, err, r.maxAttempts)
		return taskFailed
	}

	switch task.TaskType {
	case database.TaskProvision:
		// A booking that was cancelled or has already ended no longer
		// needs a passcode.
		if booking.Status != models.StatusConfirmed || !time.Now().Before(booking.EndTime) {
			_ = r.store.CompleteCredentialTask(ctx, task.ID)
			return taskSkipped
		}
		if booking.Passcode != "" {
			_ = r.store.CompleteCredentialTask(ctx, task.ID)
			return taskSkipped
		}
		if err := r.manager.Provision(ctx, booking); err != nil {
			_ = r.store.FailCredentialTask(ctx, task, err, r.maxAttempts)
			return taskFailed
		}

	case database.TaskRevoke:
		if booking.Passcode == "" {
			_ = r.store.CompleteCredentialTask(ctx, task.ID)
			return taskSkipped
		}
		if err := r.manager.Revoke(ctx, booking); err != nil {
			_ = r.store.FailCredentialTask(ctx, task, err, r.maxAttempts)
			return taskFailed
		}

	default:
		r.logger.Error().Str("task_type", task.TaskType).Int64("task_id", task.ID).Msg("unknown task type")
		_ = r.store.CompleteCredentialTask(ctx, task.ID)
		return taskSkipped
	}

	_ = r.store.CompleteCredentialTask(ctx, task.ID)
	return taskDone
}
