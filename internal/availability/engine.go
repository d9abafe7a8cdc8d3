// Package availability computes bookable time windows for a room and date
// by subtracting confirmed bookings and admin blocks from business hours.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/models"
)

// Window is a half-open free interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Store provides the busy intervals for a room and date. Recurring blocks
// arrive already materialized for the query date.
type Store interface {
	GetConfirmedBookings(ctx context.Context, roomID int64, from, to time.Time) ([]models.Booking, error)
	BlocksForDate(ctx context.Context, roomID int64, date time.Time) ([]models.BlockedSlot, error)
}

// Engine answers availability queries. Reads may be slightly stale under
// concurrent writes; the booking repository re-checks conflicts inside its
// commit transaction, so the engine is advisory while the transaction is
// authoritative.
type Engine struct {
	store     Store
	openHour  int
	closeHour int // exclusive; 24 means midnight
	logger    zerolog.Logger
}

// NewEngine creates an availability engine with the configured daily
// business hours.
func NewEngine(store Store, openHour, closeHour int, logger zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		openHour:  openHour,
		closeHour: closeHour,
		logger:    logger.With().Str("component", "availability").Logger(),
	}
}

// BusinessWindow returns the bookable range for a room on a date, and false
// when the room is closed that weekday.
func (e *Engine) BusinessWindow(room *models.Room, date time.Time) (Window, bool) {
	if room.ClosedOn(date.Weekday()) {
		return Window{}, false
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return Window{
		Start: day.Add(time.Duration(e.openHour) * time.Hour),
		End:   day.Add(time.Duration(e.closeHour) * time.Hour),
	}, true
}

// FreeWindows returns the ordered, disjoint free intervals for the room on
// the given date.
func (e *Engine) FreeWindows(ctx context.Context, room *models.Room, date time.Time) ([]Window, error) {
	business, open := e.BusinessWindow(room, date)
	if !open {
		return nil, nil
	}

	busy, err := e.busyIntervals(ctx, room.ID, business)
	if err != nil {
		return nil, err
	}

	var free []Window
	cursor := business.Start
	for _, b := range busy {
		if b.Start.After(cursor) {
			free = append(free, Window{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(business.End) {
		free = append(free, Window{Start: cursor, End: business.End})
	}
	return free, nil
}

// IsWindowFree reports whether [start, start+durationHours) is bookable.
// excludeBookingID removes a booking from the conflict set, used when
// editing that booking's own window.
func (e *Engine) IsWindowFree(ctx context.Context, room *models.Room, start time.Time, durationHours int, excludeBookingID int64) (bool, error) {
	end := start.Add(time.Duration(durationHours) * time.Hour)

	business, open := e.BusinessWindow(room, start)
	if !open {
		return false, nil
	}
	if start.Before(business.Start) || end.After(business.End) {
		return false, nil
	}

	bookings, err := e.store.GetConfirmedBookings(ctx, room.ID, start, end)
	if err != nil {
		return false, fmt.Errorf("load bookings: %w", err)
	}
	for i := range bookings {
		if bookings[i].ID == excludeBookingID {
			continue
		}
		if bookings[i].Overlaps(start, end) {
			return false, nil
		}
	}

	blocks, err := e.store.BlocksForDate(ctx, room.ID, start)
	if err != nil {
		return false, fmt.Errorf("load blocks: %w", err)
	}
	for i := range blocks {
		if blocks[i].Overlaps(start, end) {
			return false, nil
		}
	}
	return true, nil
}

// busyIntervals returns the merged, sorted busy set within the business
// window.
func (e *Engine) busyIntervals(ctx context.Context, roomID int64, business Window) ([]Window, error) {
	bookings, err := e.store.GetConfirmedBookings(ctx, roomID, business.Start, business.End)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	blocks, err := e.store.BlocksForDate(ctx, roomID, business.Start)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}

	intervals := make([]Window, 0, len(bookings)+len(blocks))
	for i := range bookings {
		intervals = append(intervals, clip(Window{Start: bookings[i].StartTime, End: bookings[i].EndTime}, business))
	}
	for i := range blocks {
		intervals = append(intervals, clip(Window{Start: blocks[i].StartTime, End: blocks[i].EndTime}, business))
	}

	return mergeWindows(intervals), nil
}

func clip(w, bounds Window) Window {
	if w.Start.Before(bounds.Start) {
		w.Start = bounds.Start
	}
	if w.End.After(bounds.End) {
		w.End = bounds.End
	}
	return w
}

// mergeWindows sorts intervals and merges any that overlap or touch.
func mergeWindows(intervals []Window) []Window {
	var valid []Window
	for _, w := range intervals {
		if w.Start.Before(w.End) {
			valid = append(valid, w)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	sort.Slice(valid, func(i, j int) bool {
		return valid[i].Start.Before(valid[j].Start)
	})

	merged := []Window{valid[0]}
	for _, w := range valid[1:] {
		last := &merged[len(merged)-1]
		if !w.Start.After(last.End) {
			if w.End.After(last.End) {
				last.End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}
