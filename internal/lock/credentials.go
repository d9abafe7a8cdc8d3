// Package lock owns the mapping from a booking to a smart-lock passcode:
// provisioning against the vendor cloud, revocation, and bulk re-sync after
// hardware replacement. Gateway failures degrade the booking to its
// fallback access code, never fail it.
package lock

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/database"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
)

// Store is the persistence surface the credential manager needs.
type Store interface {
	GetRoomByID(ctx context.Context, id int64) (*models.Room, error)
	SetBookingCredential(ctx context.Context, id int64, passcode, credentialID, state string) error
	ClearBookingCredential(ctx context.Context, id int64) error
	EnqueueCredentialTask(ctx context.Context, taskType string, bookingID int64, lastErr string) error
}

// Manager provisions and revokes smart-lock passcodes for bookings.
type Manager struct {
	gateway Gateway
	store   Store
	grace   time.Duration
	codeLen int
	logger  zerolog.Logger
}

// NewManager creates a credential manager. grace is the pre-activation
// lead time during which a booking's passcode already opens the door.
func NewManager(gateway Gateway, store Store, grace time.Duration, codeLen int, logger zerolog.Logger) *Manager {
	if codeLen <= 0 {
		codeLen = 6
	}
	return &Manager{
		gateway: gateway,
		store:   store,
		grace:   grace,
		codeLen: codeLen,
		logger:  logger.With().Str("component", "credentials").Logger(),
	}
}

// Provision registers a passcode for the booking's active window. On
// failure the booking keeps credential state none (or pending when the
// failure is transient and queued for retry); the error is returned so the
// caller can log it, but callers never roll back the booking.
func (m *Manager) Provision(ctx context.Context, booking *models.Booking) error {
	room, err := m.store.GetRoomByID(ctx, booking.RoomID)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	if !room.HasLock() {
		return nil
	}

	start, end := booking.ActiveWindow(m.grace)
	code, err := m.generatePasscode(ctx, room.LockID)
	if err != nil {
		return m.provisionFailed(ctx, booking, err)
	}

	credentialID, err := m.gateway.CreatePasscode(ctx, room.LockID, code, start, end, booking.Reference)
	if err != nil {
		return m.provisionFailed(ctx, booking, err)
	}

	if err := m.store.SetBookingCredential(ctx, booking.ID, code, credentialID, models.CredentialActive); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	booking.Passcode = code
	booking.CredentialID = credentialID
	booking.CredentialState = models.CredentialActive

	metrics.IncCredentialOp("provision", "ok")
	m.logger.Info().
		Int64("booking_id", booking.ID).
		Str("lock_id", room.LockID).
		Time("active_from", start).
		Time("active_until", end).
		Msg("passcode provisioned")
	return nil
}

func (m *Manager) provisionFailed(ctx context.Context, booking *models.Booking, cause error) error {
	metrics.IncCredentialOp("provision", "failed")

	if models.IsTransientCredentialError(cause) {
		if err := m.store.EnqueueCredentialTask(ctx, database.TaskProvision, booking.ID, cause.Error()); err != nil {
			m.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("enqueue provision retry")
		}
		if err := m.store.SetBookingCredential(ctx, booking.ID, "", "", models.CredentialPending); err != nil {
			m.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("mark credential pending")
		}
		booking.CredentialState = models.CredentialPending
		m.logger.Warn().Err(cause).Int64("booking_id", booking.ID).Msg("passcode provisioning failed, queued for retry")
	} else {
		// Vendor configuration problem; retrying cannot help. Operator alert.
		m.logger.Error().Err(cause).Int64("booking_id", booking.ID).Msg("passcode provisioning denied by vendor")
	}
	return cause
}

// Revoke deletes the booking's passcode from the lock. A passcode already
// gone at the vendor counts as revoked. Transient failures are queued; the
// caller proceeds regardless, a stale passcode is a degraded state to be
// reconciled, not a blocking error.
func (m *Manager) Revoke(ctx context.Context, booking *models.Booking) error {
	if booking.Passcode == "" {
		return nil
	}

	room, err := m.store.GetRoomByID(ctx, booking.RoomID)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}

	err = m.gateway.DeletePasscode(ctx, room.LockID, booking.CredentialID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		metrics.IncCredentialOp("revoke", "failed")
		if models.IsTransientCredentialError(err) {
			if qerr := m.store.EnqueueCredentialTask(ctx, database.TaskRevoke, booking.ID, err.Error()); qerr != nil {
				m.logger.Error().Err(qerr).Int64("booking_id", booking.ID).Msg("enqueue revoke retry")
			}
		}
		m.logger.Warn().Err(err).Int64("booking_id", booking.ID).Msg("passcode revoke failed, queued for retry")
		return err
	}

	if err := m.store.ClearBookingCredential(ctx, booking.ID); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	booking.Passcode = ""
	booking.CredentialID = ""
	booking.CredentialState = models.CredentialRevoked

	metrics.IncCredentialOp("revoke", "ok")
	m.logger.Info().Int64("booking_id", booking.ID).Msg("passcode revoked")
	return nil
}

// BulkResync re-provisions every booking's passcode against a replacement
// lock. Failures are isolated per booking and never abort the batch; the
// operation is idempotent and safe to re-run.
func (m *Manager) BulkResync(ctx context.Context, targetLockID string, bookings []models.Booking) *models.ResyncResult {
	result := &models.ResyncResult{
		Total:  len(bookings),
		Errors: make(map[int64]string),
	}

	for i := range bookings {
		b := &bookings[i]
		start, end := b.ActiveWindow(m.grace)

		credentialID, err := m.gateway.CreatePasscode(ctx, targetLockID, b.Passcode, start, end, b.Reference)
		if err != nil {
			result.Failed++
			result.Errors[b.ID] = err.Error()
			m.logger.Warn().Err(err).Int64("booking_id", b.ID).Str("lock_id", targetLockID).Msg("resync failed")
			continue
		}

		if err := m.store.SetBookingCredential(ctx, b.ID, b.Passcode, credentialID, models.CredentialActive); err != nil {
			result.Failed++
			result.Errors[b.ID] = err.Error()
			continue
		}
		result.Succeeded++
	}

	metrics.IncCredentialOp("resync", "ok")
	m.logger.Info().
		Str("lock_id", targetLockID).
		Int("total", result.Total).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("bulk resync finished")
	return result
}

// TestConnection queries lock health without touching booking data.
func (m *Manager) TestConnection(ctx context.Context, lockID string) (*models.LockStatus, error) {
	return m.gateway.GetStatus(ctx, lockID)
}

// generatePasscode produces a random numeric passcode of the configured
// length, collision-checked against passcodes currently active on the lock.
func (m *Manager) generatePasscode(ctx context.Context, lockID string) (string, error) {
	existing := make(map[string]bool)
	passcodes, err := m.gateway.ListPasscodes(ctx, lockID)
	if err != nil {
		return "", err
	}
	for _, p := range passcodes {
		existing[p.Code] = true
	}

	for attempt := 0; attempt < 10; attempt++ {
		code, err := randomDigits(m.codeLen)
		if err != nil {
			return "", err
		}
		if !existing[code] {
			return code, nil
		}
	}
	return "", fmt.Errorf("passcode space exhausted on lock %s: %w", lockID, models.ErrCredentialFailed)
}

func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
