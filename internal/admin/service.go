// Package admin implements the override layer: blocked slots, privileged
// booking edits, lock reconfiguration, and lock diagnostics. Every
// operation requires an admin actor; bookings are touched only through the
// booking service so lifecycle invariants hold on both paths.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/booking"
	"studiobook/internal/models"
)

// Store is the persistence surface for blocks and lock reconfiguration.
type Store interface {
	GetRoomByID(ctx context.Context, id int64) (*models.Room, error)
	CreateBlockedSlot(ctx context.Context, s *models.BlockedSlot) error
	DeleteBlockedSlot(ctx context.Context, id int64) error
	GetBlockedSlot(ctx context.Context, id int64) (*models.BlockedSlot, error)
	ListBlocks(ctx context.Context, roomID int64) ([]models.BlockedSlot, error)
	GetConfirmedBookings(ctx context.Context, roomID int64, from, to time.Time) ([]models.Booking, error)
	UpdateRoomLock(ctx context.Context, roomID int64, lockID, lockName string) error
	GetFutureCredentialedBookings(ctx context.Context, roomID int64, now time.Time) ([]models.Booking, error)
}

// Bookings is the slice of the booking service the admin layer re-enters.
type Bookings interface {
	Create(ctx context.Context, req booking.CreateRequest) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error)
	Edit(ctx context.Context, req booking.EditRequest) (*models.Booking, error)
}

// Locks is the credential-manager surface for hardware maintenance.
type Locks interface {
	BulkResync(ctx context.Context, targetLockID string, bookings []models.Booking) *models.ResyncResult
	TestConnection(ctx context.Context, lockID string) (*models.LockStatus, error)
}

// Service is the admin override layer.
type Service struct {
	store    Store
	bookings Bookings
	locks    Locks
	logger   zerolog.Logger
}

// NewService wires the admin service.
func NewService(store Store, bookings Bookings, locks Locks, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		bookings: bookings,
		locks:    locks,
		logger:   logger.With().Str("component", "admin").Logger(),
	}
}

// BlockRequest describes a new blocked slot. A recurring block repeats on
// the same weekday and time until RecurringUntil, materialized at query
// time rather than stored as rows.
type BlockRequest struct {
	Actor          models.Actor
	RoomID         int64
	Start          time.Time
	End            time.Time
	Reason         string
	Recurring      bool
	RecurringUntil time.Time

	// Force cancels confirmed bookings under the block instead of
	// rejecting it.
	Force bool
}

// BlockSlot creates a blocked slot. Creation over a confirmed booking is
// rejected unless Force is set, in which case the covered bookings are
// admin-cancelled first so the store never holds a block overlapping a
// confirmed booking.
func (s *Service) BlockSlot(ctx context.Context, req BlockRequest) (*models.BlockedSlot, error) {
	if !req.Actor.Admin {
		return nil, models.ErrPermissionDenied
	}
	if err := validateBlockWindow(req); err != nil {
		return nil, err
	}
	if _, err := s.store.GetRoomByID(ctx, req.RoomID); err != nil {
		return nil, err
	}

	covered, err := s.coveredBookings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(covered) > 0 && !req.Force {
		return nil, fmt.Errorf("%d confirmed booking(s) in the blocked window: %w",
			len(covered), models.ErrSlotUnavailable)
	}
	for i := range covered {
		if _, err := s.bookings.Cancel(ctx, covered[i].ID, req.Actor); err != nil {
			return nil, fmt.Errorf("force-cancel booking %d: %w", covered[i].ID, err)
		}
		s.logger.Warn().
			Int64("booking_id", covered[i].ID).
			Int64("by_admin", req.Actor.UserID).
			Msg("booking force-cancelled by block")
	}

	slot := &models.BlockedSlot{
		RoomID:         req.RoomID,
		StartTime:      req.Start,
		EndTime:        req.End,
		Reason:         req.Reason,
		CreatedBy:      req.Actor.UserID,
		Recurring:      req.Recurring,
		RecurringUntil: req.RecurringUntil,
	}
	if err := s.store.CreateBlockedSlot(ctx, slot); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("block_id", slot.ID).
		Int64("room_id", slot.RoomID).
		Bool("recurring", slot.Recurring).
		Msg("slot blocked")
	return slot, nil
}

// UnblockSlot deletes a block. Deleting a recurring rule removes all of its
// future instances.
func (s *Service) UnblockSlot(ctx context.Context, blockID int64, actor models.Actor) error {
	if !actor.Admin {
		return models.ErrPermissionDenied
	}
	if err := s.store.DeleteBlockedSlot(ctx, blockID); err != nil {
		return err
	}
	s.logger.Info().Int64("block_id", blockID).Int64("by_admin", actor.UserID).Msg("slot unblocked")
	return nil
}

// ListBlocks returns the stored blocks for a room, recurring rules
// unexpanded.
func (s *Service) ListBlocks(ctx context.Context, roomID int64, actor models.Actor) ([]models.BlockedSlot, error) {
	if !actor.Admin {
		return nil, models.ErrPermissionDenied
	}
	return s.store.ListBlocks(ctx, roomID)
}

// EditBooking is the privileged edit path: same contract as the user edit
// but with the evening minimum-duration rule bypassed.
func (s *Service) EditBooking(ctx context.Context, bookingID int64, start time.Time, durationHours int, actor models.Actor) (*models.Booking, error) {
	if !actor.Admin {
		return nil, models.ErrPermissionDenied
	}
	return s.bookings.Edit(ctx, booking.EditRequest{
		Actor:             actor,
		BookingID:         bookingID,
		Start:             start,
		DurationHours:     durationHours,
		BypassMinDuration: true,
	})
}

// CancelBooking is the privileged cancellation path.
func (s *Service) CancelBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error) {
	if !actor.Admin {
		return nil, models.ErrPermissionDenied
	}
	return s.bookings.Cancel(ctx, bookingID, actor)
}

// ReplaceLock reassigns a room's lock hardware and re-provisions every
// future passcode against the new lock. Partial resync failure is reported,
// not rolled back; the operation is idempotent and safe to re-run.
func (s *Service) ReplaceLock(ctx context.Context, roomID int64, lockID, lockName string, actor models.Actor) (*models.ResyncResult, error) {
	if !actor.Admin {
		return nil, models.ErrPermissionDenied
	}
	if lockID == "" {
		return nil, fmt.Errorf("missing lock id: %w", models.ErrInvalidRequest)
	}

	if err := s.store.UpdateRoomLock(ctx, roomID, lockID, lockName); err != nil {
		return nil, err
	}

	future, err := s.store.GetFutureCredentialedBookings(ctx, roomID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("load future bookings: %w", err)
	}

	result := s.locks.BulkResync(ctx, lockID, future)
	s.logger.Info().
		Int64("room_id", roomID).
		Str("lock_id", lockID).
		Int("resynced", result.Succeeded).
		Int("failed", result.Failed).
		Msg("lock replaced")
	return result, nil
}

// LockStatus queries lock health for a room, a pure diagnostic.
func (s *Service) LockStatus(ctx context.Context, roomID int64, actor models.Actor) (*models.LockStatus, error) {
	if !actor.Admin {
		return nil, models.ErrPermissionDenied
	}
	room, err := s.store.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasLock() {
		return nil, fmt.Errorf("room %q has no lock: %w", room.Name, models.ErrNotFound)
	}
	return s.locks.TestConnection(ctx, room.LockID)
}

// coveredBookings returns the confirmed bookings a new block would overlap.
// For recurring blocks every future instance up to the recurrence end is
// checked. This pass feeds the reject-or-force decision; the store repeats
// the check inside its insert transaction, so a booking committed after this
// read still fails the block.
func (s *Service) coveredBookings(ctx context.Context, req BlockRequest) ([]models.Booking, error) {
	rule := models.BlockedSlot{
		StartTime:      req.Start,
		EndTime:        req.End,
		Recurring:      req.Recurring,
		RecurringUntil: req.RecurringUntil,
	}

	var covered []models.Booking
	for _, w := range rule.InstanceWindows() {
		bookings, err := s.store.GetConfirmedBookings(ctx, req.RoomID, w[0], w[1])
		if err != nil {
			return nil, err
		}
		covered = append(covered, bookings...)
	}
	return covered, nil
}

func validateBlockWindow(req BlockRequest) error {
	if req.Start.IsZero() || req.End.IsZero() {
		return fmt.Errorf("missing block window: %w", models.ErrInvalidRequest)
	}
	if !req.Start.Before(req.End) {
		return fmt.Errorf("block end must be after start: %w", models.ErrInvalidRequest)
	}
	if req.Recurring && req.RecurringUntil.Before(req.Start) {
		return fmt.Errorf("recurrence ends before it starts: %w", models.ErrInvalidRequest)
	}
	return nil
}
