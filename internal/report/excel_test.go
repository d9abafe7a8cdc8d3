package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"studiobook/internal/models"
)

func TestExcelExport(t *testing.T) {
	store := new(storeStub)
	exporter := NewExcelExporter(store)
	ctx := context.Background()

	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	store.rooms = []models.Room{
		{ID: 1, Name: "Pod 1", IsActive: true},
		{ID: 2, Name: "Live Room", IsActive: true},
	}
	store.bookings = []models.Booking{
		{
			ID: 1, Reference: "ref-1", RoomID: 1, RoomName: "Pod 1",
			StartTime: start, EndTime: start.Add(2 * time.Hour), DurationHours: 2,
			PricePence: 2000, Status: models.StatusConfirmed, Passcode: "654321",
		},
		{
			ID: 2, Reference: "ref-2", RoomID: 1, RoomName: "Pod 1",
			StartTime: start.Add(4 * time.Hour), EndTime: start.Add(6 * time.Hour), DurationHours: 2,
			PricePence: 2000, Status: models.StatusCancelled,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, exporter.Export(ctx, start, start.AddDate(0, 0, 7), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Pod 1", "Live Room", "Summary"}, f.GetSheetList())

	ref, err := f.GetCellValue("Pod 1", "A2")
	require.NoError(t, err)
	assert.Equal(t, "ref-1", ref)

	access, err := f.GetCellValue("Pod 1", "I2")
	require.NoError(t, err)
	assert.Equal(t, "smart lock", access)

	// Summary counts only non-cancelled bookings toward hours and revenue.
	confirmed, err := f.GetCellValue("Summary", "B2")
	require.NoError(t, err)
	assert.Equal(t, "1", confirmed)
	revenue, err := f.GetCellValue("Summary", "E2")
	require.NoError(t, err)
	assert.Equal(t, "20.00", revenue)
}

// storeStub is a plain fake; the export reads everything up front, so
// call-order assertions add nothing here.
type storeStub struct {
	rooms    []models.Room
	bookings []models.Booking
}

func (s *storeStub) GetBookingsByDateRange(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	return s.bookings, nil
}
func (s *storeStub) ListActiveRooms(ctx context.Context) ([]models.Room, error) {
	return s.rooms, nil
}
