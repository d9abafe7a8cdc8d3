package report

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"studiobook/internal/models"
)

var sheetsColumns = []any{
	"Reference", "Room", "Date", "Start", "End", "Hours", "Price", "Status", "Access code",
}

// SheetsService mirrors upcoming bookings into the shared front-desk
// spreadsheet. The sheet is a projection, never a source of truth; a full
// push rebuilds it from the store.
type SheetsService struct {
	service       *sheets.Service
	store         Store
	spreadsheetID string
	sheetName     string
	logger        zerolog.Logger

	mu       sync.Mutex
	rowCache map[int64]int // booking ID -> sheet row
}

// NewSheetsService authenticates with a service-account credentials file
// and binds to one spreadsheet tab.
func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, store Store, logger zerolog.Logger) (*SheetsService, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	if sheetName == "" {
		sheetName = "Bookings"
	}
	return &SheetsService{
		service:       svc,
		store:         store,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        logger.With().Str("component", "sheets").Logger(),
		rowCache:      make(map[int64]int),
	}, nil
}

// PushUpcoming rebuilds the sheet with the next `days` days of bookings.
// Cancelled bookings are dropped from the projection.
func (s *SheetsService) PushUpcoming(ctx context.Context, days int) error {
	if days <= 0 {
		days = 14
	}
	now := time.Now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	bookings, err := s.store.GetBookingsByDateRange(ctx, from, from.AddDate(0, 0, days))
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	active := filterActiveBookings(bookings)

	values := [][]any{sheetsColumns}
	s.mu.Lock()
	s.rowCache = make(map[int64]int)
	for i := range active {
		values = append(values, bookingRowValues(&active[i]))
		s.rowCache[active[i].ID] = len(values)
	}
	s.mu.Unlock()

	clearRange := fmt.Sprintf("%s!A:Z", s.sheetName)
	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet: %w", err)
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.sheetName+"!A1", &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update sheet: %w", err)
	}

	s.logger.Info().Int("bookings", len(active)).Msg("sheet pushed")
	return nil
}

// UpdateBooking rewrites a single booking's row in place when its sheet row
// is known, falling back to a full push otherwise.
func (s *SheetsService) UpdateBooking(ctx context.Context, b *models.Booking) error {
	row, ok := s.getCachedRow(b.ID)
	if !ok {
		return s.PushUpcoming(ctx, 0)
	}
	if b.Status == models.StatusCancelled {
		s.deleteCacheRow(b.ID)
		return s.PushUpcoming(ctx, 0)
	}

	target := fmt.Sprintf("%s!A%d", s.sheetName, row)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, target, &sheets.ValueRange{
		Values: [][]any{bookingRowValues(b)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update row %d: %w", row, err)
	}
	return nil
}

func filterActiveBookings(bookings []models.Booking) []models.Booking {
	active := make([]models.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.Status != models.StatusCancelled {
			active = append(active, b)
		}
	}
	return active
}

func bookingRowValues(b *models.Booking) []any {
	return []any{
		b.Reference,
		b.RoomName,
		b.StartTime.Format("2006-01-02"),
		b.StartTime.Format("15:04"),
		b.EndTime.Format("15:04"),
		b.DurationHours,
		pounds(b.PricePence),
		b.EffectiveStatus(time.Now()),
		b.AccessCode,
	}
}

func (s *SheetsService) getCachedRow(bookingID int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rowCache[bookingID]
	return row, ok
}

func (s *SheetsService) setCachedRow(bookingID int64, row int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCache[bookingID] = row
}

func (s *SheetsService) deleteCacheRow(bookingID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rowCache, bookingID)
}

// ClearCache drops the row cache; the next update falls back to a full push.
func (s *SheetsService) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCache = make(map[int64]int)
}
