// Package booking implements the reservation lifecycle: validate, price,
// commit, and attach access credentials. Availability is pre-checked here
// and re-checked inside the store's commit transaction, so concurrent
// creates for overlapping windows resolve to exactly one winner.
package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studiobook/internal/events"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
	"studiobook/internal/pricing"
)

// Duration bounds for a single booking, in whole hours.
const (
	MinDurationHours = 1
	MaxDurationHours = 12
)

// Store is the persistence surface the service writes through.
type Store interface {
	GetRoomByID(ctx context.Context, id int64) (*models.Room, error)
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	CancelBooking(ctx context.Context, id int64) (bool, error)
	UpdateBookingWindow(ctx context.Context, id, version int64, start, end time.Time, durationHours int, pricePence int64) error
}

// Availability answers whether a candidate window is bookable.
type Availability interface {
	IsWindowFree(ctx context.Context, room *models.Room, start time.Time, durationHours int, excludeBookingID int64) (bool, error)
}

// Credentials provisions and revokes smart-lock passcodes. Both calls are
// best-effort from the service's point of view.
type Credentials interface {
	Provision(ctx context.Context, booking *models.Booking) error
	Revoke(ctx context.Context, booking *models.Booking) error
}

// Service orchestrates the booking lifecycle.
type Service struct {
	store   Store
	avail   Availability
	creds   Credentials
	bus     *events.EventBus
	codeLen int
	logger  zerolog.Logger
}

// NewService wires the booking service. bus may be nil when no subscriber
// cares about lifecycle events.
func NewService(store Store, avail Availability, creds Credentials, bus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		avail:   avail,
		creds:   creds,
		bus:     bus,
		codeLen: 6,
		logger:  logger.With().Str("component", "booking").Logger(),
	}
}

// CreateRequest is a validated-at-the-edge booking request. Actor is passed
// explicitly; nothing is read from ambient state.
type CreateRequest struct {
	Actor         models.Actor
	RoomID        int64
	Start         time.Time
	DurationHours int

	// BypassMinDuration relaxes the evening minimum-duration rule for
	// admin-placed bookings.
	BypassMinDuration bool
}

// Create validates the request, prices the window, and commits a confirmed
// booking. Passcode provisioning runs after the commit and never rolls it
// back: on gateway failure the booking stays valid on its fallback access
// code with credential state pending or none.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	room, err := s.validateWindow(ctx, req.RoomID, req.Start, req.DurationHours)
	if err != nil {
		return nil, err
	}
	if !req.BypassMinDuration {
		if err := s.checkEveningMinimum(room, req.Start, req.DurationHours); err != nil {
			return nil, err
		}
	}

	free, err := s.avail.IsWindowFree(ctx, room, req.Start, req.DurationHours, 0)
	if err != nil {
		return nil, fmt.Errorf("availability check: %w", err)
	}
	if !free {
		metrics.IncBookingCreated("conflict")
		return nil, models.ErrSlotUnavailable
	}

	accessCode, err := randomDigits(s.codeLen)
	if err != nil {
		return nil, fmt.Errorf("generate access code: %w", err)
	}

	b := &models.Booking{
		Reference:     uuid.NewString(),
		UserID:        req.Actor.UserID,
		RoomID:        room.ID,
		RoomName:      room.Name,
		StartTime:     req.Start,
		EndTime:       req.Start.Add(time.Duration(req.DurationHours) * time.Hour),
		DurationHours: req.DurationHours,
		PricePence:    pricing.Quote(room, req.Start, req.DurationHours),
		AccessCode:    accessCode,
	}

	if err := s.store.CreateBooking(ctx, b); err != nil {
		if errors.Is(err, models.ErrSlotUnavailable) {
			metrics.IncBookingCreated("conflict")
			return nil, models.ErrSlotUnavailable
		}
		metrics.IncBookingCreated("error")
		return nil, fmt.Errorf("create booking: %w", err)
	}

	metrics.IncBookingCreated("ok")
	s.logger.Info().
		Int64("booking_id", b.ID).
		Str("reference", b.Reference).
		Int64("room_id", room.ID).
		Time("start", b.StartTime).
		Int("hours", b.DurationHours).
		Int64("price_pence", b.PricePence).
		Msg("booking confirmed")

	if err := s.creds.Provision(ctx, b); err != nil {
		// Degraded, not failed: the access code still admits the user.
		s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("smart-lock pending, fallback access code active")
	}

	s.publish(events.BookingCreated, b.ID)
	return b, nil
}

// Cancel flips a confirmed booking to cancelled and revokes its passcode.
// Cancelling an already-cancelled booking is a no-op success. The fallback
// access code is kept on the record for audit.
func (s *Service) Cancel(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(b.UserID) {
		return nil, models.ErrPermissionDenied
	}
	if b.Status == models.StatusCancelled {
		return b, nil
	}

	changed, err := s.store.CancelBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if !changed {
		// Lost a race with another canceller; same terminal state.
		return s.store.GetBooking(ctx, bookingID)
	}

	b.Status = models.StatusCancelled
	metrics.IncBookingCancelled()
	s.logger.Info().Int64("booking_id", bookingID).Int64("by_user", actor.UserID).Msg("booking cancelled")

	// The slot is already free; a stale passcode is reconciled later.
	if err := s.creds.Revoke(ctx, b); err != nil {
		s.logger.Warn().Err(err).Int64("booking_id", bookingID).Msg("passcode revoke pending")
	}

	s.publish(events.BookingCancelled, bookingID)
	return b, nil
}

// EditRequest moves an existing booking to a new window.
type EditRequest struct {
	Actor             models.Actor
	BookingID         int64
	Start             time.Time
	DurationHours     int
	BypassMinDuration bool
}

// Edit re-validates the new window with the booking itself excluded from
// the conflict set, reprices, and atomically moves the booking. On conflict
// the original booking is untouched. The old passcode is revoked and a new
// one provisioned for the new window, both best-effort.
func (s *Service) Edit(ctx context.Context, req EditRequest) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if !req.Actor.CanManage(b.UserID) {
		return nil, models.ErrPermissionDenied
	}
	if b.EffectiveStatus(time.Now()) != models.StatusConfirmed {
		return nil, fmt.Errorf("booking is %s: %w", b.EffectiveStatus(time.Now()), models.ErrInvalidRequest)
	}

	room, err := s.validateWindow(ctx, b.RoomID, req.Start, req.DurationHours)
	if err != nil {
		return nil, err
	}
	if !req.BypassMinDuration {
		if err := s.checkEveningMinimum(room, req.Start, req.DurationHours); err != nil {
			return nil, err
		}
	}

	free, err := s.avail.IsWindowFree(ctx, room, req.Start, req.DurationHours, b.ID)
	if err != nil {
		return nil, fmt.Errorf("availability check: %w", err)
	}
	if !free {
		return nil, models.ErrSlotUnavailable
	}

	end := req.Start.Add(time.Duration(req.DurationHours) * time.Hour)
	price := pricing.Quote(room, req.Start, req.DurationHours)
	if err := s.store.UpdateBookingWindow(ctx, b.ID, b.Version, req.Start, end, req.DurationHours, price); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", b.ID).
		Time("new_start", req.Start).
		Int("hours", req.DurationHours).
		Int64("price_pence", price).
		Msg("booking window moved")

	// Re-provision for the new window: the old passcode no longer matches.
	if b.Passcode != "" {
		if err := s.creds.Revoke(ctx, b); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("old passcode revoke pending")
		}
	}

	updated, err := s.store.GetBooking(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if err := s.creds.Provision(ctx, updated); err != nil {
		s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("smart-lock pending after edit")
	}

	s.publish(events.BookingUpdated, b.ID)
	return updated, nil
}

// Quote prices a candidate window without committing anything.
func (s *Service) Quote(ctx context.Context, roomID int64, start time.Time, durationHours int) (int64, error) {
	room, err := s.validateWindow(ctx, roomID, start, durationHours)
	if err != nil {
		return 0, err
	}
	return pricing.Quote(room, start, durationHours), nil
}

// Get returns a booking, enforcing owner-or-admin visibility.
func (s *Service) Get(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(b.UserID) {
		return nil, models.ErrPermissionDenied
	}
	return b, nil
}

// validateWindow checks the request shape and loads the target room.
func (s *Service) validateWindow(ctx context.Context, roomID int64, start time.Time, durationHours int) (*models.Room, error) {
	if durationHours < MinDurationHours || durationHours > MaxDurationHours {
		return nil, fmt.Errorf("duration %dh out of range [%d, %d]: %w",
			durationHours, MinDurationHours, MaxDurationHours, models.ErrInvalidRequest)
	}
	if start.IsZero() {
		return nil, fmt.Errorf("missing start time: %w", models.ErrInvalidRequest)
	}
	if start.Minute() != 0 || start.Second() != 0 {
		return nil, fmt.Errorf("start time must be on the hour: %w", models.ErrInvalidRequest)
	}
	if start.Before(time.Now()) {
		return nil, fmt.Errorf("start time in the past: %w", models.ErrInvalidRequest)
	}

	room, err := s.store.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, fmt.Errorf("room %q is inactive: %w", room.Name, models.ErrNotFound)
	}
	return room, nil
}

// checkEveningMinimum enforces the per-room minimum duration for sessions
// touching evening hours.
func (s *Service) checkEveningMinimum(room *models.Room, start time.Time, durationHours int) error {
	if room.EveningMinHours <= 0 || durationHours >= room.EveningMinHours {
		return nil
	}
	for i := 0; i < durationHours; i++ {
		if pricing.IsEvening(room, start.Hour()+i) {
			return fmt.Errorf("evening sessions in %q require at least %dh: %w",
				room.Name, room.EveningMinHours, models.ErrInvalidRequest)
		}
	}
	return nil
}

func (s *Service) publish(eventType string, bookingID int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Type: eventType, BookingID: bookingID})
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
