package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studiobook/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetRoomByID(ctx context.Context, id int64) (*models.Room, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}
func (m *mockStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockStore) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockStore) CancelBooking(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *mockStore) UpdateBookingWindow(ctx context.Context, id, version int64, start, end time.Time, durationHours int, pricePence int64) error {
	return m.Called(ctx, id, version, start, end, durationHours, pricePence).Error(0)
}

type mockAvailability struct {
	mock.Mock
}

func (m *mockAvailability) IsWindowFree(ctx context.Context, room *models.Room, start time.Time, durationHours int, excludeBookingID int64) (bool, error) {
	args := m.Called(ctx, room, start, durationHours, excludeBookingID)
	return args.Bool(0), args.Error(1)
}

type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) Provision(ctx context.Context, booking *models.Booking) error {
	return m.Called(ctx, booking).Error(0)
}
func (m *mockCredentials) Revoke(ctx context.Context, booking *models.Booking) error {
	return m.Called(ctx, booking).Error(0)
}

type serviceMocks struct {
	store *mockStore
	avail *mockAvailability
	creds *mockCredentials
}

func newTestService() (*Service, serviceMocks) {
	m := serviceMocks{
		store: new(mockStore),
		avail: new(mockAvailability),
		creds: new(mockCredentials),
	}
	svc := NewService(m.store, m.avail, m.creds, nil, zerolog.New(io.Discard))
	return svc, m
}

func flatRoom() *models.Room {
	return &models.Room{
		ID:       1,
		Name:     "Pod 1",
		Pricing:  models.PricingPolicy{Mode: models.PricingFlat, HourlyRate: 1000},
		IsActive: true,
	}
}

func eveningRoom() *models.Room {
	return &models.Room{
		ID:   2,
		Name: "Live Room",
		Pricing: models.PricingPolicy{
			Mode: models.PricingTimeOfDay, DayRate: 800, EveningRate: 1000,
			DayStart: 9, DayEnd: 17,
		},
		EveningMinHours: 3,
		IsActive:        true,
	}
}

func nextDayAt(hour int) time.Time {
	d := time.Now().AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}

func TestCreateSuccess(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()
	start := nextDayAt(12)

	m.store.On("GetRoomByID", ctx, int64(1)).Return(flatRoom(), nil).Once()
	m.avail.On("IsWindowFree", ctx, mock.Anything, start, 2, int64(0)).Return(true, nil).Once()
	m.store.On("CreateBooking", ctx, mock.AnythingOfType("*models.Booking")).
		Run(func(args mock.Arguments) {
			b := args.Get(1).(*models.Booking)
			b.ID = 42
			b.Status = models.StatusConfirmed
		}).Return(nil).Once()
	m.creds.On("Provision", ctx, mock.Anything).Return(nil).Once()

	b, err := svc.Create(ctx, CreateRequest{
		Actor: models.Actor{UserID: 7}, RoomID: 1, Start: start, DurationHours: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), b.ID)
	assert.Equal(t, int64(7), b.UserID)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, int64(2000), b.PricePence)
	assert.Equal(t, start.Add(2*time.Hour), b.EndTime)
	assert.Len(t, b.AccessCode, 6)
	assert.NotEmpty(t, b.Reference)
	m.creds.AssertExpectations(t)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		roomID   int64
		start    time.Time
		duration int
	}{
		{"ZeroDuration", 1, nextDayAt(12), 0},
		{"TooLong", 1, nextDayAt(12), 13},
		{"MissingStart", 1, time.Time{}, 2},
		{"OffHourStart", 1, nextDayAt(12).Add(30 * time.Minute), 2},
		{"PastStart", 1, time.Now().Add(-48 * time.Hour).Truncate(time.Hour), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := newTestService()
			_, err := svc.Create(ctx, CreateRequest{
				Actor: models.Actor{UserID: 7}, RoomID: tt.roomID,
				Start: tt.start, DurationHours: tt.duration,
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidRequest))
			m.store.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateSlotUnavailable(t *testing.T) {
	ctx := context.Background()
	start := nextDayAt(11)

	t.Run("PreCheck", func(t *testing.T) {
		svc, m := newTestService()
		m.store.On("GetRoomByID", ctx, int64(1)).Return(flatRoom(), nil).Once()
		m.avail.On("IsWindowFree", ctx, mock.Anything, start, 2, int64(0)).Return(false, nil).Once()

		_, err := svc.Create(ctx, CreateRequest{Actor: models.Actor{UserID: 7}, RoomID: 1, Start: start, DurationHours: 2})
		assert.ErrorIs(t, err, models.ErrSlotUnavailable)
		m.store.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
	})

	t.Run("CommitRace", func(t *testing.T) {
		svc, m := newTestService()
		m.store.On("GetRoomByID", ctx, int64(1)).Return(flatRoom(), nil).Once()
		m.avail.On("IsWindowFree", ctx, mock.Anything, start, 2, int64(0)).Return(true, nil).Once()
		m.store.On("CreateBooking", ctx, mock.Anything).Return(models.ErrSlotUnavailable).Once()

		_, err := svc.Create(ctx, CreateRequest{Actor: models.Actor{UserID: 7}, RoomID: 1, Start: start, DurationHours: 2})
		assert.ErrorIs(t, err, models.ErrSlotUnavailable)
		m.creds.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
	})
}

func TestCreateSurvivesProvisioningFailure(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()
	start := nextDayAt(12)

	m.store.On("GetRoomByID", ctx, int64(1)).Return(flatRoom(), nil).Once()
	m.avail.On("IsWindowFree", ctx, mock.Anything, start, 2, int64(0)).Return(true, nil).Once()
	m.store.On("CreateBooking", ctx, mock.Anything).
		Run(func(args mock.Arguments) {
			b := args.Get(1).(*models.Booking)
			b.ID = 43
			b.Status = models.StatusConfirmed
		}).Return(nil).Once()
	m.creds.On("Provision", ctx, mock.Anything).
		Return(fmt.Errorf("gateway http 503: %w", models.ErrCredentialFailed)).Once()

	b, err := svc.Create(ctx, CreateRequest{Actor: models.Actor{UserID: 7}, RoomID: 1, Start: start, DurationHours: 2})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.NotEmpty(t, b.AccessCode)
	assert.Empty(t, b.Passcode)
}

func TestCreateEveningMinimum(t *testing.T) {
	ctx := context.Background()

	t.Run("TooShortEveningSession", func(t *testing.T) {
		svc, m := newTestService()
		m.store.On("GetRoomByID", ctx, int64(2)).Return(eveningRoom(), nil).Once()

		_, err := svc.Create(ctx, CreateRequest{
			Actor: models.Actor{UserID: 7}, RoomID: 2, Start: nextDayAt(18), DurationHours: 2,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrInvalidRequest))
	})

	t.Run("DaySessionUnaffected", func(t *testing.T) {
		svc, m := newTestService()
		start := nextDayAt(10)
		m.store.On("GetRoomByID", ctx, int64(2)).Return(eveningRoom(), nil).Once()
		m.avail.On("IsWindowFree", ctx, mock.Anything, start, 2, int64(0)).Return(true, nil).Once()
		m.store.On("CreateBooking", ctx, mock.Anything).Return(nil).Once()
		m.creds.On("Provision", ctx, mock.Anything).Return(nil).Once()

		_, err := svc.Create(ctx, CreateRequest{
			Actor: models.Actor{UserID: 7}, RoomID: 2, Start: start, DurationHours: 2,
		})
		require.NoError(t, err)
	})

	t.Run("AdminBypass", func(t *testing.T) {
		svc, m := newTestService()
		start := nextDayAt(18)
		m.store.On("GetRoomByID", ctx, int64(2)).Return(eveningRoom(), nil).Once()
		m.avail.On("IsWindowFree", ctx, mock.Anything, start, 2, int64(0)).Return(true, nil).Once()
		m.store.On("CreateBooking", ctx, mock.Anything).Return(nil).Once()
		m.creds.On("Provision", ctx, mock.Anything).Return(nil).Once()

		_, err := svc.Create(ctx, CreateRequest{
			Actor: models.Actor{UserID: 1, Admin: true}, RoomID: 2,
			Start: start, DurationHours: 2, BypassMinDuration: true,
		})
		require.NoError(t, err)
	})
}

func confirmedBooking() *models.Booking {
	start := nextDayAt(10)
	return &models.Booking{
		ID: 42, Reference: "ref-42", UserID: 7, RoomID: 1,
		StartTime: start, EndTime: start.Add(2 * time.Hour), DurationHours: 2,
		PricePence: 2000, Status: models.StatusConfirmed,
		AccessCode: "123456", Version: 1,
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("OwnerCancels", func(t *testing.T) {
		svc, m := newTestService()
		m.store.On("GetBooking", ctx, int64(42)).Return(confirmedBooking(), nil).Once()
		m.store.On("CancelBooking", ctx, int64(42)).Return(true, nil).Once()
		m.creds.On("Revoke", ctx, mock.Anything).Return(nil).Once()

		b, err := svc.Cancel(ctx, 42, models.Actor{UserID: 7})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, b.Status)
		// Fallback code kept for audit.
		assert.Equal(t, "123456", b.AccessCode)
	})

	t.Run("AlreadyCancelledIsNoop", func(t *testing.T) {
		svc, m := newTestService()
		cancelled := confirmedBooking()
		cancelled.Status = models.StatusCancelled
		m.store.On("GetBooking", ctx, int64(42)).Return(cancelled, nil).Once()

		b, err := svc.Cancel(ctx, 42, models.Actor{UserID: 7})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, b.Status)
		m.store.AssertNotCalled(t, "CancelBooking", mock.Anything, mock.Anything)
		m.creds.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything)
	})

	t.Run("StrangerDenied", func(t *testing.T) {
		svc, m := newTestService()
		m.store.On("GetBooking", ctx, int64(42)).Return(confirmedBooking(), nil).Once()

		_, err := svc.Cancel(ctx, 42, models.Actor{UserID: 99})
		assert.ErrorIs(t, err, models.ErrPermissionDenied)
		m.store.AssertNotCalled(t, "CancelBooking", mock.Anything, mock.Anything)
	})

	t.Run("AdminCancelsAnyBooking", func(t *testing.T) {
		svc, m := newTestService()
		m.store.On("GetBooking", ctx, int64(42)).Return(confirmedBooking(), nil).Once()
		m.store.On("CancelBooking", ctx, int64(42)).Return(true, nil).Once()
		m.creds.On("Revoke", ctx, mock.Anything).Return(nil).Once()

		_, err := svc.Cancel(ctx, 42, models.Actor{UserID: 1, Admin: true})
		require.NoError(t, err)
	})

	t.Run("RevokeFailureDoesNotBlock", func(t *testing.T) {
		svc, m := newTestService()
		m.store.On("GetBooking", ctx, int64(42)).Return(confirmedBooking(), nil).Once()
		m.store.On("CancelBooking", ctx, int64(42)).Return(true, nil).Once()
		m.creds.On("Revoke", ctx, mock.Anything).
			Return(fmt.Errorf("gateway http 500: %w", models.ErrCredentialFailed)).Once()

		b, err := svc.Cancel(ctx, 42, models.Actor{UserID: 7})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, b.Status)
	})
}

func TestEdit(t *testing.T) {
	ctx := context.Background()

	t.Run("MovesWindowAndReprices", func(t *testing.T) {
		svc, m := newTestService()
		original := confirmedBooking()
		original.Passcode = "654321"
		newStart := nextDayAt(14)
		newEnd := newStart.Add(3 * time.Hour)

		moved := *original
		moved.StartTime = newStart
		moved.EndTime = newEnd
		moved.DurationHours = 3
		moved.PricePence = 3000
		moved.Version = 2

		m.store.On("GetBooking", ctx, int64(42)).Return(original, nil).Once()
		m.store.On("GetRoomByID", ctx, int64(1)).Return(flatRoom(), nil).Once()
		m.avail.On("IsWindowFree", ctx, mock.Anything, newStart, 3, int64(42)).Return(true, nil).Once()
		m.store.On("UpdateBookingWindow", ctx, int64(42), int64(1), newStart, newEnd, 3, int64(3000)).Return(nil).Once()
		m.creds.On("Revoke", ctx, mock.Anything).Return(nil).Once()
		m.store.On("GetBooking", ctx, int64(42)).Return(&moved, nil).Once()
		m.creds.On("Provision", ctx, &moved).Return(nil).Once()

		got, err := svc.Edit(ctx, EditRequest{
			Actor: models.Actor{UserID: 7}, BookingID: 42, Start: newStart, DurationHours: 3,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3000), got.PricePence)
		assert.Equal(t, newStart, got.StartTime)
		m.creds.AssertExpectations(t)
	})

	t.Run("ConflictLeavesOriginalUntouched", func(t *testing.T) {
		svc, m := newTestService()
		newStart := nextDayAt(14)

		m.store.On("GetBooking", ctx, int64(42)).Return(confirmedBooking(), nil).Once()
		m.store.On("GetRoomByID", ctx, int64(1)).Return(flatRoom(), nil).Once()
		m.avail.On("IsWindowFree", ctx, mock.Anything, newStart, 3, int64(42)).Return(false, nil).Once()

		_, err := svc.Edit(ctx, EditRequest{
			Actor: models.Actor{UserID: 7}, BookingID: 42, Start: newStart, DurationHours: 3,
		})
		assert.ErrorIs(t, err, models.ErrSlotUnavailable)
		m.store.AssertNotCalled(t, "UpdateBookingWindow",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		m.creds.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything)
	})

	t.Run("CancelledBookingRejected", func(t *testing.T) {
		svc, m := newTestService()
		cancelled := confirmedBooking()
		cancelled.Status = models.StatusCancelled
		m.store.On("GetBooking", ctx, int64(42)).Return(cancelled, nil).Once()

		_, err := svc.Edit(ctx, EditRequest{
			Actor: models.Actor{UserID: 7}, BookingID: 42, Start: nextDayAt(14), DurationHours: 2,
		})
		assert.ErrorIs(t, err, models.ErrInvalidRequest)
	})
}

func TestQuoteIsSpeculative(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()
	start := nextDayAt(15)

	m.store.On("GetRoomByID", ctx, int64(2)).Return(eveningRoom(), nil).Once()

	// 15:00 for 5h: 2 day hours + 3 evening hours, 10% off.
	price, err := svc.Quote(ctx, 2, start, 5)
	require.NoError(t, err)
	assert.Equal(t, int64((2*800+3*1000)*9/10), price)
	m.store.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestGetVisibility(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	m.store.On("GetBooking", ctx, int64(42)).Return(confirmedBooking(), nil).Twice()

	_, err := svc.Get(ctx, 42, models.Actor{UserID: 7})
	require.NoError(t, err)

	_, err = svc.Get(ctx, 42, models.Actor{UserID: 99})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}
