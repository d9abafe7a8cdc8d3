package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/models"
)

var (
	// ErrConcurrentModification is returned when a versioned update loses a
	// race with another writer.
	ErrConcurrentModification = errors.New("concurrent modification")
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateBooking inserts a booking inside a transaction that re-checks the
// window for conflicts. The availability pre-check outside the transaction
// may be stale; this re-check is the authoritative guard, so of two
// concurrent creates for overlapping windows exactly one commits.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	busy, err := windowBusy(ctx, tx, b.RoomID, b.StartTime, b.EndTime, 0)
	if err != nil {
		return fmt.Errorf("conflict check: %w", err)
	}
	if busy {
		return models.ErrSlotUnavailable
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO bookings (
			reference, user_id, room_id, start_time, end_time, duration_hours,
			price_pence, status, access_code, credential_state,
			created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Reference, b.UserID, b.RoomID, b.StartTime, b.EndTime, b.DurationHours,
		b.PricePence, models.StatusConfirmed, b.AccessCode, models.CredentialNone,
		now, now, 1,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	b.ID = id
	b.Status = models.StatusConfirmed
	b.CredentialState = models.CredentialNone
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1
	return nil
}

// UpdateBookingWindow moves a booking to a new window, re-checking conflicts
// against everything except the booking itself. On conflict the original
// booking is left untouched.
func (db *DB) UpdateBookingWindow(ctx context.Context, id, version int64, start, end time.Time, durationHours int, pricePence int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var roomID int64
	if err := tx.QueryRowContext(ctx, "SELECT room_id FROM bookings WHERE id = ?", id).Scan(&roomID); err != nil {
		if err == sql.ErrNoRows {
			return models.ErrNotFound
		}
		return fmt.Errorf("load booking: %w", err)
	}

	busy, err := windowBusy(ctx, tx, roomID, start, end, id)
	if err != nil {
		return fmt.Errorf("conflict check: %w", err)
	}
	if busy {
		return models.ErrSlotUnavailable
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET start_time = ?, end_time = ?, duration_hours = ?, price_pence = ?,
		    updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = ?`,
		start, end, durationHours, pricePence, time.Now(), id, version, models.StatusConfirmed,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConcurrentModification
	}

	return tx.Commit()
}

// windowBusy reports whether [start, end) intersects a confirmed booking or
// a blocked slot for the room. Half-open semantics: touching endpoints do
// not conflict.
func windowBusy(ctx context.Context, q querier, roomID int64, start, end time.Time, excludeBookingID int64) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE room_id = ? AND status = ?
		AND start_time < ? AND end_time > ?
		AND id != ?`,
		roomID, models.StatusConfirmed, end, start, excludeBookingID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	blocks, err := blocksForDate(ctx, q, roomID, start)
	if err != nil {
		return false, err
	}
	for i := range blocks {
		if blocks[i].Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

// CancelBooking flips a confirmed booking to cancelled. Returns false when
// the booking was already cancelled, which callers treat as a no-op success.
func (db *DB) CancelBooking(ctx context.Context, id int64) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ?`,
		models.StatusCancelled, time.Now(), id, models.StatusConfirmed,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetBookingCredential stores the smart-lock passcode obtained from the
// gateway.
func (db *DB) SetBookingCredential(ctx context.Context, id int64, passcode, credentialID, state string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET passcode = ?, credential_id = ?, credential_state = ?, updated_at = ?
		WHERE id = ?`,
		passcode, credentialID, state, time.Now(), id,
	)
	return err
}

// ClearBookingCredential removes a revoked passcode from the booking.
func (db *DB) ClearBookingCredential(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET passcode = NULL, credential_id = NULL, credential_state = ?, updated_at = ?
		WHERE id = ?`,
		models.CredentialRevoked, time.Now(), id,
	)
	return err
}

// GetBooking returns a booking by id.
func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return scanBooking(db.QueryRowContext(ctx, selectBooking+" WHERE b.id = ?", id))
}

// GetConfirmedBookings returns confirmed bookings for a room intersecting
// [from, to), ordered by start time.
func (db *DB) GetConfirmedBookings(ctx context.Context, roomID int64, from, to time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, selectBooking+`
		WHERE b.room_id = ? AND b.status = ?
		AND b.start_time < ? AND b.end_time > ?
		ORDER BY b.start_time`,
		roomID, models.StatusConfirmed, to, from,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

// GetBookingsByDateRange returns all bookings starting within [from, to),
// for reports.
func (db *DB) GetBookingsByDateRange(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, selectBooking+`
		WHERE b.start_time >= ? AND b.start_time < ?
		ORDER BY b.start_time`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

// GetFutureCredentialedBookings returns future confirmed bookings for a room
// that currently hold a smart-lock passcode. Used by bulk resync after the
// physical lock is replaced.
func (db *DB) GetFutureCredentialedBookings(ctx context.Context, roomID int64, now time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, selectBooking+`
		WHERE b.room_id = ? AND b.status = ?
		AND b.end_time > ? AND b.passcode IS NOT NULL
		ORDER BY b.start_time`,
		roomID, models.StatusConfirmed, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

// FindBookingByPasscode returns the confirmed booking holding the passcode,
// if any.
func (db *DB) FindBookingByPasscode(ctx context.Context, passcode string) (*models.Booking, error) {
	if passcode == "" {
		return nil, models.ErrNotFound
	}
	return scanBooking(db.QueryRowContext(ctx,
		selectBooking+" WHERE b.passcode = ? AND b.status = ?",
		passcode, models.StatusConfirmed))
}

// FindBookingsActiveAt returns confirmed bookings whose credential window
// (grace period included) contains the instant.
func (db *DB) FindBookingsActiveAt(ctx context.Context, at time.Time, grace time.Duration) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, selectBooking+`
		WHERE b.status = ? AND b.start_time <= ? AND b.end_time >= ?
		ORDER BY b.start_time`,
		models.StatusConfirmed, at.Add(grace), at,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

// DeleteOldBookings removes bookings that ended before the retention cutoff.
// Invoked by the retention job, never by user cancellation.
func (db *DB) DeleteOldBookings(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := db.ExecContext(ctx, "DELETE FROM bookings WHERE end_time < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const selectBooking = `
	SELECT b.id, b.reference, b.user_id, b.room_id, r.name,
	       b.start_time, b.end_time, b.duration_hours, b.price_pence,
	       b.status, b.access_code, b.passcode, b.credential_id,
	       b.credential_state, b.created_at, b.updated_at, b.version
	FROM bookings b
	JOIN rooms r ON r.id = b.room_id`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var passcode, credentialID sql.NullString
	err := row.Scan(
		&b.ID, &b.Reference, &b.UserID, &b.RoomID, &b.RoomName,
		&b.StartTime, &b.EndTime, &b.DurationHours, &b.PricePence,
		&b.Status, &b.AccessCode, &passcode, &credentialID,
		&b.CredentialState, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Passcode = passcode.String
	b.CredentialID = credentialID.String
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]models.Booking, error) {
	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}
