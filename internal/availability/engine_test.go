package availability

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiobook/internal/models"
)

type fakeStore struct {
	bookings []models.Booking
	blocks   []models.BlockedSlot
}

func (f *fakeStore) GetConfirmedBookings(ctx context.Context, roomID int64, from, to time.Time) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range f.bookings {
		if b.RoomID == roomID && b.Status == models.StatusConfirmed && b.Overlaps(from, to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) BlocksForDate(ctx context.Context, roomID int64, date time.Time) ([]models.BlockedSlot, error) {
	var out []models.BlockedSlot
	for _, s := range f.blocks {
		if s.RoomID != roomID {
			continue
		}
		if s.AppliesOn(date) {
			inst := s
			if s.Recurring {
				inst = s.MaterializeOn(date)
			}
			out = append(out, inst)
		}
	}
	return out, nil
}

func newEngine(store Store) *Engine {
	return NewEngine(store, 6, 24, zerolog.New(io.Discard))
}

func testRoom() *models.Room {
	return &models.Room{ID: 1, Name: "Pod 1", IsActive: true}
}

func day(hour int) time.Time {
	return time.Date(2025, 9, 1, hour, 0, 0, 0, time.UTC) // a Monday
}

func booking(roomID int64, start, end time.Time) models.Booking {
	return models.Booking{RoomID: roomID, StartTime: start, EndTime: end, Status: models.StatusConfirmed}
}

func TestFreeWindowsEmptyDay(t *testing.T) {
	engine := newEngine(&fakeStore{})

	windows, err := engine.FreeWindows(context.Background(), testRoom(), day(0))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, day(6), windows[0].Start)
	assert.Equal(t, day(24), windows[0].End)
}

func TestFreeWindowsSubtractsBookingsAndBlocks(t *testing.T) {
	store := &fakeStore{
		bookings: []models.Booking{booking(1, day(10), day(12))},
		blocks: []models.BlockedSlot{
			{RoomID: 1, StartTime: day(18), EndTime: day(20)},
		},
	}
	engine := newEngine(store)

	windows, err := engine.FreeWindows(context.Background(), testRoom(), day(0))
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, Window{Start: day(6), End: day(10)}, windows[0])
	assert.Equal(t, Window{Start: day(12), End: day(18)}, windows[1])
	assert.Equal(t, Window{Start: day(20), End: day(24)}, windows[2])
}

func TestFreeWindowsMergesAdjacentBusy(t *testing.T) {
	store := &fakeStore{
		bookings: []models.Booking{
			booking(1, day(10), day(12)),
			booking(1, day(12), day(14)),
		},
	}
	engine := newEngine(store)

	windows, err := engine.FreeWindows(context.Background(), testRoom(), day(0))
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, Window{Start: day(6), End: day(10)}, windows[0])
	assert.Equal(t, Window{Start: day(14), End: day(24)}, windows[1])
}

func TestFreeWindowsClosedWeekday(t *testing.T) {
	room := testRoom()
	room.ClosedWeekdays = []int{int(time.Monday)}
	engine := newEngine(&fakeStore{})

	windows, err := engine.FreeWindows(context.Background(), room, day(0))
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestIsWindowFree(t *testing.T) {
	store := &fakeStore{
		bookings: []models.Booking{booking(1, day(10), day(12))},
	}
	engine := newEngine(store)
	ctx := context.Background()
	room := testRoom()

	tests := []struct {
		name     string
		start    time.Time
		duration int
		want     bool
	}{
		{"overlapping booked window", day(11), 2, false},
		{"contained in booked window", day(10), 2, false},
		{"touching end of booked window", day(12), 2, true},
		{"touching start of booked window", day(8), 2, true},
		{"before business hours", day(5), 1, false},
		{"runs past closing", day(23), 2, false},
		{"ends exactly at closing", day(22), 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			free, err := engine.IsWindowFree(ctx, room, tt.start, tt.duration, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, free)
		})
	}
}

func TestIsWindowFreeExcludesEditedBooking(t *testing.T) {
	existing := booking(1, day(10), day(12))
	existing.ID = 42
	engine := newEngine(&fakeStore{bookings: []models.Booking{existing}})

	// The booking's own window conflicts unless excluded.
	free, err := engine.IsWindowFree(context.Background(), testRoom(), day(10), 3, 0)
	require.NoError(t, err)
	assert.False(t, free)

	free, err = engine.IsWindowFree(context.Background(), testRoom(), day(10), 3, 42)
	require.NoError(t, err)
	assert.True(t, free)
}

func TestRecurringBlockEmptiesSundays(t *testing.T) {
	// Every Sunday 09:00-24:00 until the end of 2025.
	sunday := time.Date(2025, 9, 7, 0, 0, 0, 0, time.UTC)
	rule := models.BlockedSlot{
		ID:             7,
		RoomID:         1,
		StartTime:      sunday.Add(9 * time.Hour),
		EndTime:        sunday.Add(24 * time.Hour),
		Recurring:      true,
		RecurringUntil: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	engine := NewEngine(&fakeStore{blocks: []models.BlockedSlot{rule}}, 9, 24, zerolog.New(io.Discard))
	ctx := context.Background()

	for _, date := range []time.Time{
		sunday,
		sunday.AddDate(0, 0, 7),
		time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC),
	} {
		windows, err := engine.FreeWindows(ctx, testRoom(), date)
		require.NoError(t, err)
		assert.Empty(t, windows, "expected no free windows on %s", date.Format("2006-01-02"))
	}

	// A Sunday past the recurrence end is unaffected.
	windows, err := engine.FreeWindows(ctx, testRoom(), time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, windows, 1)

	// Other weekdays are unaffected.
	windows, err = engine.FreeWindows(ctx, testRoom(), sunday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, windows, 1)
}
