// Package report produces the booking schedule exports consumed by studio
// staff: an Excel workbook for download and a Google Sheets push for the
// shared front-desk spreadsheet.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"studiobook/internal/models"
)

// Store provides the booking and room data the exports read.
type Store interface {
	GetBookingsByDateRange(ctx context.Context, from, to time.Time) ([]models.Booking, error)
	ListActiveRooms(ctx context.Context) ([]models.Room, error)
}

// ExcelExporter writes booking schedules as xlsx workbooks.
type ExcelExporter struct {
	store Store
}

// NewExcelExporter creates an exporter over the store.
func NewExcelExporter(store Store) *ExcelExporter {
	return &ExcelExporter{store: store}
}

var bookingColumns = []string{
	"Reference", "Room", "Date", "Start", "End", "Hours",
	"Price", "Status", "Access", "Created",
}

// Export writes one sheet per room covering [from, to), plus a summary
// sheet with totals.
func (e *ExcelExporter) Export(ctx context.Context, from, to time.Time, w io.Writer) error {
	rooms, err := e.store.ListActiveRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	bookings, err := e.store.GetBookingsByDateRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}

	byRoom := make(map[int64][]models.Booking)
	for _, b := range bookings {
		byRoom[b.RoomID] = append(byRoom[b.RoomID], b)
	}

	sw := newSheetWriter()
	defer sw.Close()

	now := time.Now()
	for _, room := range rooms {
		if err := sw.AddSheet(room.Name); err != nil {
			return err
		}
		if err := sw.WriteHeader(bookingColumns); err != nil {
			return err
		}
		for i := range byRoom[room.ID] {
			if err := sw.WriteRow(bookingRow(&byRoom[room.ID][i], now)); err != nil {
				return err
			}
		}
	}

	if err := e.writeSummary(sw, rooms, byRoom); err != nil {
		return err
	}
	return sw.Save(w)
}

func (e *ExcelExporter) writeSummary(sw *sheetWriter, rooms []models.Room, byRoom map[int64][]models.Booking) error {
	if err := sw.AddSheet("Summary"); err != nil {
		return err
	}
	if err := sw.WriteHeader([]string{"Room", "Bookings", "Cancelled", "Hours", "Revenue"}); err != nil {
		return err
	}

	for _, room := range rooms {
		var confirmed, cancelled, hours int
		var revenue int64
		for i := range byRoom[room.ID] {
			b := &byRoom[room.ID][i]
			if b.Status == models.StatusCancelled {
				cancelled++
				continue
			}
			confirmed++
			hours += b.DurationHours
			revenue += b.PricePence
		}
		if err := sw.WriteRow([]any{room.Name, confirmed, cancelled, hours, pounds(revenue)}); err != nil {
			return err
		}
	}
	return nil
}

func bookingRow(b *models.Booking, now time.Time) []any {
	access := "code only"
	if b.Passcode != "" {
		access = "smart lock"
	} else if b.CredentialState == models.CredentialPending {
		access = "smart lock pending"
	}
	return []any{
		b.Reference,
		b.RoomName,
		b.StartTime.Format("2006-01-02"),
		b.StartTime.Format("15:04"),
		b.EndTime.Format("15:04"),
		b.DurationHours,
		pounds(b.PricePence),
		b.EffectiveStatus(now),
		access,
		b.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func pounds(pence int64) string {
	return fmt.Sprintf("%d.%02d", pence/100, pence%100)
}

// sheetWriter wraps excelize with a cursor so callers append rows without
// tracking coordinates.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

// AddSheet starts a new sheet and resets the cursor. The first sheet
// renames excelize's default Sheet1.
func (w *sheetWriter) AddSheet(name string) error {
	// Excel caps sheet names at 31 chars.
	if len(name) > 31 {
		name = name[:31]
	}
	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename default sheet: %w", err)
		}
	} else {
		if _, err := w.file.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) WriteHeader(columns []string) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cells := make([]any, len(columns))
	for i, col := range columns {
		cells[i] = col
	}
	if err := w.WriteRow(cells); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	return nil
}

func (w *sheetWriter) WriteRow(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, val); err != nil {
			return err
		}
	}
	w.currentRow++
	return nil
}

func (w *sheetWriter) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

func (w *sheetWriter) Close() error {
	return w.file.Close()
}
