package api

import (
	"encoding/json"
	"net/http"
	"time"

	"studiobook/internal/booking"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
)

// CreateBookingRequest is the request body for POST /api/bookings.
type CreateBookingRequest struct {
	RoomID        int64  `json:"room_id"`
	Start         string `json:"start"` // Format: RFC3339
	DurationHours int    `json:"duration_hours"`
}

// BookingResponse represents a booking in API responses. The smart-lock
// passcode is included only when provisioning succeeded; access_pending
// signals "access code available, smart lock pending".
type BookingResponse struct {
	ID            int64  `json:"id"`
	Reference     string `json:"reference"`
	RoomID        int64  `json:"room_id"`
	RoomName      string `json:"room_name,omitempty"`
	Start         string `json:"start"`
	End           string `json:"end"`
	DurationHours int    `json:"duration_hours"`
	PricePence    int64  `json:"price_pence"`
	Status        string `json:"status"`
	AccessCode    string `json:"access_code"`
	Passcode      string `json:"passcode,omitempty"`
	AccessPending bool   `json:"access_pending,omitempty"`
}

func bookingResponse(b *models.Booking) BookingResponse {
	return BookingResponse{
		ID:            b.ID,
		Reference:     b.Reference,
		RoomID:        b.RoomID,
		RoomName:      b.RoomName,
		Start:         b.StartTime.Format(time.RFC3339),
		End:           b.EndTime.Format(time.RFC3339),
		DurationHours: b.DurationHours,
		PricePence:    b.PricePence,
		Status:        b.EffectiveStatus(time.Now()),
		AccessCode:    b.AccessCode,
		Passcode:      b.Passcode,
		AccessPending: b.CredentialState == models.CredentialPending,
	}
}

// handleCreateBooking confirms a new booking. Payment is confirmed
// upstream before this endpoint is called.
// POST /api/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_booking")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	actor, err := actorFromRequest(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req CreateBookingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start; expected RFC3339 timestamp")
		return
	}

	b, err := s.bookings.Create(r.Context(), booking.CreateRequest{
		Actor:         actor,
		RoomID:        req.RoomID,
		Start:         start,
		DurationHours: req.DurationHours,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse(b))
}

// QuoteRequest is the request body for POST /api/bookings/quote.
type QuoteRequest struct {
	RoomID        int64  `json:"room_id"`
	Start         string `json:"start"`
	DurationHours int    `json:"duration_hours"`
}

// handleQuote prices a window without committing anything, for UI preview.
// POST /api/bookings/quote
func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("quote")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req QuoteRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start; expected RFC3339 timestamp")
		return
	}

	price, err := s.bookings.Quote(r.Context(), req.RoomID, start, req.DurationHours)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"price_pence": price})
}

// EditBookingRequest is the request body for PATCH /api/bookings/{id}.
type EditBookingRequest struct {
	Start         string `json:"start"`
	DurationHours int    `json:"duration_hours"`
}

// handleBookingByID dispatches GET, PATCH and DELETE for a single booking.
func (s *HTTPServer) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r.URL.Path, "/api/bookings/")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := actorFromRequest(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		metrics.IncHTTP("get_booking")
		b, err := s.bookings.Get(r.Context(), id, actor)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse(b))

	case http.MethodPatch:
		metrics.IncHTTP("edit_booking")
		var req EditBookingRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start; expected RFC3339 timestamp")
			return
		}
		b, err := s.bookings.Edit(r.Context(), booking.EditRequest{
			Actor:         actor,
			BookingID:     id,
			Start:         start,
			DurationHours: req.DurationHours,
		})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse(b))

	case http.MethodDelete:
		metrics.IncHTTP("cancel_booking")
		b, err := s.bookings.Cancel(r.Context(), id, actor)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse(b))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
