package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"studiobook/internal/models"
)

// SyncRooms upserts the configured rooms into the rooms table. Rooms present
// in the table but absent from the config are deactivated, not deleted, so
// historical bookings keep a valid reference.
func (db *DB) SyncRooms(ctx context.Context, rooms []models.Room) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "UPDATE rooms SET is_active = 0, updated_at = ?", time.Now()); err != nil {
		return fmt.Errorf("deactivate rooms: %w", err)
	}

	for _, room := range rooms {
		equipment, err := json.Marshal(room.Equipment)
		if err != nil {
			return fmt.Errorf("marshal equipment for %q: %w", room.Name, err)
		}
		closed, err := json.Marshal(room.ClosedWeekdays)
		if err != nil {
			return fmt.Errorf("marshal closed weekdays for %q: %w", room.Name, err)
		}

		now := time.Now()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rooms (
				name, equipment, pricing_mode, hourly_rate, day_rate, evening_rate,
				day_start, day_end, lock_id, lock_name, closed_weekdays,
				evening_min_hours, is_active, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				equipment = excluded.equipment,
				pricing_mode = excluded.pricing_mode,
				hourly_rate = excluded.hourly_rate,
				day_rate = excluded.day_rate,
				evening_rate = excluded.evening_rate,
				day_start = excluded.day_start,
				day_end = excluded.day_end,
				lock_id = excluded.lock_id,
				lock_name = excluded.lock_name,
				closed_weekdays = excluded.closed_weekdays,
				evening_min_hours = excluded.evening_min_hours,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`,
			room.Name, string(equipment), room.Pricing.Mode, room.Pricing.HourlyRate,
			room.Pricing.DayRate, room.Pricing.EveningRate, room.Pricing.DayStart,
			room.Pricing.DayEnd, room.LockID, room.LockName, string(closed),
			room.EveningMinHours, room.IsActive, now, now,
		)
		if err != nil {
			return fmt.Errorf("upsert room %q: %w", room.Name, err)
		}
	}

	return tx.Commit()
}

// GetRoomByID returns a room by id.
func (db *DB) GetRoomByID(ctx context.Context, id int64) (*models.Room, error) {
	return db.scanRoom(db.QueryRowContext(ctx, `
		SELECT id, name, equipment, pricing_mode, hourly_rate, day_rate,
		       evening_rate, day_start, day_end, lock_id, lock_name,
		       closed_weekdays, evening_min_hours, is_active, created_at, updated_at
		FROM rooms WHERE id = ?`, id))
}

// GetRoomByName returns a room by its unique name.
func (db *DB) GetRoomByName(ctx context.Context, name string) (*models.Room, error) {
	return db.scanRoom(db.QueryRowContext(ctx, `
		SELECT id, name, equipment, pricing_mode, hourly_rate, day_rate,
		       evening_rate, day_start, day_end, lock_id, lock_name,
		       closed_weekdays, evening_min_hours, is_active, created_at, updated_at
		FROM rooms WHERE name = ?`, name))
}

// ListActiveRooms returns all active rooms ordered by name.
func (db *DB) ListActiveRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, equipment, pricing_mode, hourly_rate, day_rate,
		       evening_rate, day_start, day_end, lock_id, lock_name,
		       closed_weekdays, evening_min_hours, is_active, created_at, updated_at
		FROM rooms WHERE is_active = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := db.scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

// UpdateRoomLock reassigns the lock hardware for a room (admin lock
// reconfiguration, followed by a BulkResync).
func (db *DB) UpdateRoomLock(ctx context.Context, roomID int64, lockID, lockName string) error {
	result, err := db.ExecContext(ctx,
		"UPDATE rooms SET lock_id = ?, lock_name = ?, updated_at = ? WHERE id = ?",
		lockID, lockName, time.Now(), roomID,
	)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanRoom(row rowScanner) (*models.Room, error) {
	var r models.Room
	var equipment, closed, lockID, lockName sql.NullString
	err := row.Scan(
		&r.ID, &r.Name, &equipment, &r.Pricing.Mode, &r.Pricing.HourlyRate,
		&r.Pricing.DayRate, &r.Pricing.EveningRate, &r.Pricing.DayStart,
		&r.Pricing.DayEnd, &lockID, &lockName, &closed, &r.EveningMinHours,
		&r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if equipment.Valid && equipment.String != "" {
		if err := json.Unmarshal([]byte(equipment.String), &r.Equipment); err != nil {
			return nil, fmt.Errorf("unmarshal equipment: %w", err)
		}
	}
	if closed.Valid && closed.String != "" {
		if err := json.Unmarshal([]byte(closed.String), &r.ClosedWeekdays); err != nil {
			return nil, fmt.Errorf("unmarshal closed weekdays: %w", err)
		}
	}
	r.LockID = lockID.String
	r.LockName = lockName.String
	return &r, nil
}
