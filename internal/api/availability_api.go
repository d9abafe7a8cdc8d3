package api

import (
	"encoding/json"
	"net/http"
	"time"

	"studiobook/internal/metrics"
	"studiobook/internal/models"
)

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID              int64                `json:"id"`
	Name            string               `json:"name"`
	Equipment       []string             `json:"equipment,omitempty"`
	Pricing         models.PricingPolicy `json:"pricing"`
	HasLock         bool                 `json:"has_lock"`
	ClosedWeekdays  []int                `json:"closed_weekdays,omitempty"`
	EveningMinHours int                  `json:"evening_min_hours,omitempty"`
}

// handleRooms returns the active room catalogue.
// GET /api/rooms
func (s *HTTPServer) handleRooms(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("rooms")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rooms, err := s.rooms.ListActiveRooms(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := make([]RoomResponse, 0, len(rooms))
	for i := range rooms {
		room := &rooms[i]
		out = append(out, RoomResponse{
			ID:              room.ID,
			Name:            room.Name,
			Equipment:       room.Equipment,
			Pricing:         room.Pricing,
			HasLock:         room.HasLock(),
			ClosedWeekdays:  room.ClosedWeekdays,
			EveningMinHours: room.EveningMinHours,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

// AvailabilityRequest is the request body for POST /api/availability.
type AvailabilityRequest struct {
	RoomID int64  `json:"room_id"`
	Date   string `json:"date"` // Format: YYYY-MM-DD
}

// WindowResponse is one free interval.
type WindowResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// handleAvailability returns the free windows for a room and date.
// POST /api/availability
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req AvailabilityRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RoomID <= 0 || req.Date == "" {
		writeError(w, http.StatusBadRequest, "room_id and date are required")
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	room, err := s.rooms.GetRoomByID(r.Context(), req.RoomID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	windows, err := s.avail.FreeWindows(r.Context(), room, date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := make([]WindowResponse, 0, len(windows))
	for _, win := range windows {
		out = append(out, WindowResponse{
			Start: win.Start.Format(time.RFC3339),
			End:   win.End.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": room.ID,
		"date":    req.Date,
		"windows": out,
	})
}
