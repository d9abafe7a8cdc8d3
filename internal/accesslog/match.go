// Package accesslog matches raw door-unlock events against bookings, for
// the reporting view that reconciles who actually entered a room.
package accesslog

import (
	"context"
	"errors"
	"time"

	"studiobook/internal/models"
)

// Store provides the booking lookups the matcher needs.
type Store interface {
	FindBookingByPasscode(ctx context.Context, passcode string) (*models.Booking, error)
	FindBookingsActiveAt(ctx context.Context, at time.Time, grace time.Duration) ([]models.Booking, error)
	GetRoomByID(ctx context.Context, id int64) (*models.Room, error)
}

// Matcher maps unlock events to bookings.
type Matcher struct {
	store Store
	grace time.Duration
}

// NewMatcher creates a matcher using the same grace period the credential
// manager provisions passcodes with, so temporal containment lines up with
// the passcode's actual validity window.
func NewMatcher(store Store, grace time.Duration) *Matcher {
	return &Matcher{store: store, grace: grace}
}

// MatchEntryToBooking resolves an unlock event to the booking that admitted
// it, or nil when no booking matches. Passcode equality wins; an event
// without a usable passcode (keypad fallback code, app unlock, fob) falls
// back to temporal containment within a booking's active window, and only
// an unambiguous single candidate is returned.
func (m *Matcher) MatchEntryToBooking(ctx context.Context, event models.UnlockEvent) (*models.Booking, error) {
	if event.Passcode != "" {
		b, err := m.store.FindBookingByPasscode(ctx, event.Passcode)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	active, err := m.store.FindBookingsActiveAt(ctx, event.Timestamp, m.grace)
	if err != nil {
		return nil, err
	}

	rooms := make(map[int64]*models.Room)
	var match *models.Booking
	for i := range active {
		// An event carrying a lock id can only belong to a booking in the
		// room that lock guards.
		if event.LockID != "" {
			room, ok := rooms[active[i].RoomID]
			if !ok {
				room, err = m.store.GetRoomByID(ctx, active[i].RoomID)
				if err != nil {
					return nil, err
				}
				rooms[active[i].RoomID] = room
			}
			if room.LockID != event.LockID {
				continue
			}
		}
		if event.Passcode != "" && active[i].AccessCode == event.Passcode {
			return &active[i], nil
		}
		if match != nil {
			// Two bookings active at once in the same room's window; without
			// a code the event cannot be attributed.
			return nil, nil
		}
		match = &active[i]
	}
	return match, nil
}
