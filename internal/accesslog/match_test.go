package accesslog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studiobook/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindBookingByPasscode(ctx context.Context, passcode string) (*models.Booking, error) {
	args := m.Called(ctx, passcode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockStore) FindBookingsActiveAt(ctx context.Context, at time.Time, grace time.Duration) ([]models.Booking, error) {
	args := m.Called(ctx, at, grace)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}
func (m *mockStore) GetRoomByID(ctx context.Context, id int64) (*models.Room, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}

func TestMatchEntryToBooking(t *testing.T) {
	ctx := context.Background()
	grace := 15 * time.Minute
	when := time.Date(2026, 9, 7, 10, 5, 0, 0, time.UTC)

	t.Run("ByPasscode", func(t *testing.T) {
		store := new(mockStore)
		matcher := NewMatcher(store, grace)
		want := &models.Booking{ID: 1, Passcode: "654321"}
		store.On("FindBookingByPasscode", ctx, "654321").Return(want, nil).Once()

		got, err := matcher.MatchEntryToBooking(ctx, models.UnlockEvent{Timestamp: when, Passcode: "654321"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.ID)
		store.AssertNotCalled(t, "FindBookingsActiveAt", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ByFallbackAccessCode", func(t *testing.T) {
		store := new(mockStore)
		matcher := NewMatcher(store, grace)
		store.On("FindBookingByPasscode", ctx, "123456").Return(nil, models.ErrNotFound).Once()
		store.On("FindBookingsActiveAt", ctx, when, grace).Return([]models.Booking{
			{ID: 1, AccessCode: "999999"},
			{ID: 2, AccessCode: "123456"},
		}, nil).Once()

		got, err := matcher.MatchEntryToBooking(ctx, models.UnlockEvent{Timestamp: when, Passcode: "123456"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.ID)
	})

	t.Run("ByTemporalContainment", func(t *testing.T) {
		store := new(mockStore)
		matcher := NewMatcher(store, grace)
		store.On("FindBookingsActiveAt", ctx, when, grace).
			Return([]models.Booking{{ID: 3}}, nil).Once()

		got, err := matcher.MatchEntryToBooking(ctx, models.UnlockEvent{Timestamp: when, Method: "app"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.ID)
	})

	t.Run("WrongRoomLockNotAttributed", func(t *testing.T) {
		store := new(mockStore)
		matcher := NewMatcher(store, grace)
		store.On("FindBookingsActiveAt", ctx, when, grace).
			Return([]models.Booking{{ID: 5, RoomID: 2}}, nil).Once()
		store.On("GetRoomByID", ctx, int64(2)).
			Return(&models.Room{ID: 2, LockID: "lk-other"}, nil).Once()

		got, err := matcher.MatchEntryToBooking(ctx, models.UnlockEvent{
			Timestamp: when, Method: "app", LockID: "lk-3f2a91",
		})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("LockDisambiguatesTwoActiveBookings", func(t *testing.T) {
		store := new(mockStore)
		matcher := NewMatcher(store, grace)
		store.On("FindBookingsActiveAt", ctx, when, grace).Return([]models.Booking{
			{ID: 6, RoomID: 1},
			{ID: 7, RoomID: 3},
		}, nil).Once()
		store.On("GetRoomByID", ctx, int64(1)).
			Return(&models.Room{ID: 1, LockID: "lk-3f2a91"}, nil).Once()
		store.On("GetRoomByID", ctx, int64(3)).
			Return(&models.Room{ID: 3, LockID: "lk-81c04d"}, nil).Once()

		got, err := matcher.MatchEntryToBooking(ctx, models.UnlockEvent{
			Timestamp: when, Method: "fob", LockID: "lk-81c04d",
		})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(7), got.ID)
	})

	t.Run("AmbiguousWithoutCode", func(t *testing.T) {
		store := new(mockStore)
		matcher := NewMatcher(store, grace)
		store.On("FindBookingsActiveAt", ctx, when, grace).
			Return([]models.Booking{{ID: 3}, {ID: 4}}, nil).Once()

		got, err := matcher.MatchEntryToBooking(ctx, models.UnlockEvent{Timestamp: when, Method: "fob"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("NoMatch", func(t *testing.T) {
		store := new(mockStore)
		matcher := NewMatcher(store, grace)
		store.On("FindBookingByPasscode", ctx, "000000").Return(nil, models.ErrNotFound).Once()
		store.On("FindBookingsActiveAt", ctx, when, grace).Return([]models.Booking{}, nil).Once()

		got, err := matcher.MatchEntryToBooking(ctx, models.UnlockEvent{Timestamp: when, Passcode: "000000"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
