package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studiobook/internal/models"
)

// CreateBlockedSlot inserts an admin block inside a transaction that
// re-checks every instance window against confirmed bookings. The admin
// layer's pre-check (and force-cancel pass) runs outside the transaction and
// may be stale; this re-check is the authoritative guard, so the store never
// holds a block overlapping a confirmed booking.
func (db *DB) CreateBlockedSlot(ctx context.Context, s *models.BlockedSlot) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range s.InstanceWindows() {
		var count int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM bookings
			WHERE room_id = ? AND status = ?
			AND start_time < ? AND end_time > ?`,
			s.RoomID, models.StatusConfirmed, w[1], w[0],
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("conflict check: %w", err)
		}
		if count > 0 {
			return models.ErrSlotUnavailable
		}
	}

	var until any
	if s.Recurring {
		until = s.RecurringUntil
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO blocked_slots (
			room_id, start_time, end_time, reason, created_by,
			recurring, recurring_until, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RoomID, s.StartTime, s.EndTime, s.Reason, s.CreatedBy,
		s.Recurring, until, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert blocked slot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.ID = id
	return nil
}

// DeleteBlockedSlot removes a block. Deleting a recurring rule removes all
// of its future instances since they are never materialized into rows.
func (db *DB) DeleteBlockedSlot(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, "DELETE FROM blocked_slots WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetBlockedSlot returns a stored block (single or recurring rule) by id.
func (db *DB) GetBlockedSlot(ctx context.Context, id int64) (*models.BlockedSlot, error) {
	row := db.QueryRowContext(ctx, selectBlock+" WHERE id = ?", id)
	s, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return s, err
}

// BlocksForDate returns the blocked intervals effective for a room on the
// given date, with recurring rules materialized onto that date. The lookup
// hits the (room_id, start_time) and (recurring, recurring_until) indexes;
// rules are stored once, never expanded into rows.
func (db *DB) BlocksForDate(ctx context.Context, roomID int64, date time.Time) ([]models.BlockedSlot, error) {
	return blocksForDate(ctx, db.DB, roomID, date)
}

func blocksForDate(ctx context.Context, q querier, roomID int64, date time.Time) ([]models.BlockedSlot, error) {
	rows, err := q.QueryContext(ctx, selectBlock+`
		WHERE room_id = ? AND (
			(recurring = 0 AND date(start_time) = date(?))
			OR (recurring = 1
				AND CAST(strftime('%w', start_time) AS INTEGER) = CAST(strftime('%w', ?) AS INTEGER)
				AND date(start_time) <= date(?)
				AND date(recurring_until) >= date(?))
		)
		ORDER BY start_time`,
		roomID, date, date, date, date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []models.BlockedSlot
	for rows.Next() {
		s, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		if s.Recurring {
			*s = s.MaterializeOn(date)
		}
		blocks = append(blocks, *s)
	}
	return blocks, rows.Err()
}

// ListBlocks returns stored blocks for a room (recurring rules unexpanded),
// for admin listing.
func (db *DB) ListBlocks(ctx context.Context, roomID int64) ([]models.BlockedSlot, error) {
	rows, err := db.QueryContext(ctx, selectBlock+" WHERE room_id = ? ORDER BY start_time", roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []models.BlockedSlot
	for rows.Next() {
		s, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *s)
	}
	return blocks, rows.Err()
}

const selectBlock = `
	SELECT id, room_id, start_time, end_time, reason, created_by,
	       recurring, recurring_until, created_at
	FROM blocked_slots`

func scanBlock(row rowScanner) (*models.BlockedSlot, error) {
	var s models.BlockedSlot
	var reason sql.NullString
	var until sql.NullTime
	err := row.Scan(
		&s.ID, &s.RoomID, &s.StartTime, &s.EndTime, &reason, &s.CreatedBy,
		&s.Recurring, &until, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Reason = reason.String
	if until.Valid {
		s.RecurringUntil = until.Time
	}
	return &s, nil
}
