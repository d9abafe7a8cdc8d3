package admin

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studiobook/internal/booking"
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
func (m *mockStore) CreateBlockedSlot(ctx context.Context, s *models.BlockedSlot) error {
	return m.Called(ctx, s).Error(0)
}
func (m *mockStore) DeleteBlockedSlot(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockStore) GetBlockedSlot(ctx context.Context, id int64) (*models.BlockedSlot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BlockedSlot), args.Error(1)
}
func (m *mockStore) ListBlocks(ctx context.Context, roomID int64) ([]models.BlockedSlot, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BlockedSlot), args.Error(1)
}
func (m *mockStore) GetConfirmedBookings(ctx context.Context, roomID int64, from, to time.Time) ([]models.Booking, error) {
	args := m.Called(ctx, roomID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}
func (m *mockStore) UpdateRoomLock(ctx context.Context, roomID int64, lockID, lockName string) error {
	return m.Called(ctx, roomID, lockID, lockName).Error(0)
}
func (m *mockStore) GetFutureCredentialedBookings(ctx context.Context, roomID int64, now time.Time) ([]models.Booking, error) {
	args := m.Called(ctx, roomID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) Create(ctx context.Context, req booking.CreateRequest) (*models.Booking, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockBookings) Cancel(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockBookings) Edit(ctx context.Context, req booking.EditRequest) (*models.Booking, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

type mockLocks struct {
	mock.Mock
}

func (m *mockLocks) BulkResync(ctx context.Context, targetLockID string, bookings []models.Booking) *models.ResyncResult {
	args := m.Called(ctx, targetLockID, bookings)
	return args.Get(0).(*models.ResyncResult)
}
func (m *mockLocks) TestConnection(ctx context.Context, lockID string) (*models.LockStatus, error) {
	args := m.Called(ctx, lockID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LockStatus), args.Error(1)
}

var (
	adminActor = models.Actor{UserID: 1, Admin: true}
	userActor  = models.Actor{UserID: 7}
)

func newTestService() (*Service, *mockStore, *mockBookings, *mockLocks) {
	store := new(mockStore)
	bookings := new(mockBookings)
	locks := new(mockLocks)
	return NewService(store, bookings, locks, zerolog.New(io.Discard)), store, bookings, locks
}

func testRoom() *models.Room {
	return &models.Room{ID: 1, Name: "Pod 1", LockID: "lock-1", IsActive: true}
}

func at(hour int) time.Time {
	return time.Date(2026, 9, 7, hour, 0, 0, 0, time.UTC) // a Monday
}

func TestBlockSlot(t *testing.T) {
	ctx := context.Background()

	t.Run("CleanWindow", func(t *testing.T) {
		svc, store, _, _ := newTestService()
		store.On("GetRoomByID", ctx, int64(1)).Return(testRoom(), nil).Once()
		store.On("GetConfirmedBookings", ctx, int64(1), at(9), at(12)).Return([]models.Booking{}, nil).Once()
		store.On("CreateBlockedSlot", ctx, mock.AnythingOfType("*models.BlockedSlot")).
			Run(func(args mock.Arguments) {
				args.Get(1).(*models.BlockedSlot).ID = 5
			}).Return(nil).Once()

		slot, err := svc.BlockSlot(ctx, BlockRequest{
			Actor: adminActor, RoomID: 1, Start: at(9), End: at(12), Reason: "maintenance",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), slot.ID)
		assert.Equal(t, int64(1), slot.CreatedBy)
	})

	t.Run("RejectedOverBooking", func(t *testing.T) {
		svc, store, bookings, _ := newTestService()
		existing := models.Booking{ID: 42, Status: models.StatusConfirmed, StartTime: at(10), EndTime: at(11)}
		store.On("GetRoomByID", ctx, int64(1)).Return(testRoom(), nil).Once()
		store.On("GetConfirmedBookings", ctx, int64(1), at(9), at(12)).Return([]models.Booking{existing}, nil).Once()

		_, err := svc.BlockSlot(ctx, BlockRequest{
			Actor: adminActor, RoomID: 1, Start: at(9), End: at(12),
		})
		assert.ErrorIs(t, err, models.ErrSlotUnavailable)
		bookings.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "CreateBlockedSlot", mock.Anything, mock.Anything)
	})

	t.Run("ForceCancelsCoveredBookings", func(t *testing.T) {
		svc, store, bookings, _ := newTestService()
		existing := models.Booking{ID: 42, Status: models.StatusConfirmed, StartTime: at(10), EndTime: at(11)}
		store.On("GetRoomByID", ctx, int64(1)).Return(testRoom(), nil).Once()
		store.On("GetConfirmedBookings", ctx, int64(1), at(9), at(12)).Return([]models.Booking{existing}, nil).Once()
		bookings.On("Cancel", ctx, int64(42), adminActor).
			Return(&models.Booking{ID: 42, Status: models.StatusCancelled}, nil).Once()
		store.On("CreateBlockedSlot", ctx, mock.Anything).Return(nil).Once()

		_, err := svc.BlockSlot(ctx, BlockRequest{
			Actor: adminActor, RoomID: 1, Start: at(9), End: at(12), Force: true,
		})
		require.NoError(t, err)
		bookings.AssertExpectations(t)
	})

	t.Run("RecurringChecksEveryInstance", func(t *testing.T) {
		svc, store, _, _ := newTestService()
		until := at(9).AddDate(0, 0, 15) // covers 3 Mondays
		store.On("GetRoomByID", ctx, int64(1)).Return(testRoom(), nil).Once()
		store.On("GetConfirmedBookings", ctx, int64(1), mock.Anything, mock.Anything).
			Return([]models.Booking{}, nil).Times(3)
		store.On("CreateBlockedSlot", ctx, mock.Anything).Return(nil).Once()

		_, err := svc.BlockSlot(ctx, BlockRequest{
			Actor: adminActor, RoomID: 1, Start: at(9), End: at(12),
			Recurring: true, RecurringUntil: until,
		})
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("NonAdminDenied", func(t *testing.T) {
		svc, store, _, _ := newTestService()
		_, err := svc.BlockSlot(ctx, BlockRequest{Actor: userActor, RoomID: 1, Start: at(9), End: at(12)})
		assert.ErrorIs(t, err, models.ErrPermissionDenied)
		store.AssertNotCalled(t, "CreateBlockedSlot", mock.Anything, mock.Anything)
	})

	t.Run("InvertedWindowRejected", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		_, err := svc.BlockSlot(ctx, BlockRequest{Actor: adminActor, RoomID: 1, Start: at(12), End: at(9)})
		assert.ErrorIs(t, err, models.ErrInvalidRequest)
	})
}

func TestUnblockSlot(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService()

	store.On("DeleteBlockedSlot", ctx, int64(5)).Return(nil).Once()
	require.NoError(t, svc.UnblockSlot(ctx, 5, adminActor))

	assert.ErrorIs(t, svc.UnblockSlot(ctx, 5, userActor), models.ErrPermissionDenied)

	store.On("DeleteBlockedSlot", ctx, int64(6)).Return(models.ErrNotFound).Once()
	assert.ErrorIs(t, svc.UnblockSlot(ctx, 6, adminActor), models.ErrNotFound)
}

func TestEditBookingBypassesEveningRule(t *testing.T) {
	ctx := context.Background()
	svc, _, bookings, _ := newTestService()

	bookings.On("Edit", ctx, mock.MatchedBy(func(req booking.EditRequest) bool {
		return req.BookingID == 42 && req.BypassMinDuration
	})).Return(&models.Booking{ID: 42}, nil).Once()

	_, err := svc.EditBooking(ctx, 42, at(18), 2, adminActor)
	require.NoError(t, err)
	bookings.AssertExpectations(t)

	_, err = svc.EditBooking(ctx, 42, at(18), 2, userActor)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}

func TestReplaceLock(t *testing.T) {
	ctx := context.Background()
	svc, store, _, locks := newTestService()

	future := []models.Booking{{ID: 1, Passcode: "111111"}, {ID: 2, Passcode: "222222"}}
	store.On("UpdateRoomLock", ctx, int64(1), "lock-new", "Pod 1 Door v2").Return(nil).Once()
	store.On("GetFutureCredentialedBookings", ctx, int64(1), mock.Anything).Return(future, nil).Once()
	locks.On("BulkResync", ctx, "lock-new", future).
		Return(&models.ResyncResult{Total: 2, Succeeded: 1, Failed: 1}).Once()

	result, err := svc.ReplaceLock(ctx, 1, "lock-new", "Pod 1 Door v2", adminActor)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	_, err = svc.ReplaceLock(ctx, 1, "", "", adminActor)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestLockStatus(t *testing.T) {
	ctx := context.Background()
	svc, store, _, locks := newTestService()

	store.On("GetRoomByID", ctx, int64(1)).Return(testRoom(), nil).Once()
	locks.On("TestConnection", ctx, "lock-1").
		Return(&models.LockStatus{LockID: "lock-1", Online: true}, nil).Once()

	status, err := svc.LockStatus(ctx, 1, adminActor)
	require.NoError(t, err)
	assert.True(t, status.Online)

	store.On("GetRoomByID", ctx, int64(2)).Return(&models.Room{ID: 2, Name: "Pod 2"}, nil).Once()
	_, err = svc.LockStatus(ctx, 2, adminActor)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
