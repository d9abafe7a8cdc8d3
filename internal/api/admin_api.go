package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studiobook/internal/admin"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
)

// BlockSlotRequest is the request body for POST /api/admin/blocks.
type BlockSlotRequest struct {
	RoomID         int64  `json:"room_id"`
	Start          string `json:"start"` // Format: RFC3339
	End            string `json:"end"`
	Reason         string `json:"reason,omitempty"`
	Recurring      bool   `json:"recurring,omitempty"`
	RecurringUntil string `json:"recurring_until,omitempty"` // Format: YYYY-MM-DD
	Force          bool   `json:"force,omitempty"`
}

// handleBlocks lists and creates blocked slots.
// GET /api/admin/blocks?room_id=N | POST /api/admin/blocks
func (s *HTTPServer) handleBlocks(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		metrics.IncHTTP("list_blocks")
		roomID, err := strconv.ParseInt(r.URL.Query().Get("room_id"), 10, 64)
		if err != nil || roomID <= 0 {
			writeError(w, http.StatusBadRequest, "room_id query parameter is required")
			return
		}
		blocks, err := s.admin.ListBlocks(r.Context(), roomID, actor)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})

	case http.MethodPost:
		metrics.IncHTTP("block_slot")
		var req BlockSlotRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		blockReq, err := parseBlockRequest(req, actor)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slot, err := s.admin.BlockSlot(r.Context(), blockReq)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, slot)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func parseBlockRequest(req BlockSlotRequest, actor models.Actor) (admin.BlockRequest, error) {
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return admin.BlockRequest{}, fmt.Errorf("invalid start; expected RFC3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		return admin.BlockRequest{}, fmt.Errorf("invalid end; expected RFC3339 timestamp")
	}
	var until time.Time
	if req.Recurring {
		until, err = time.Parse("2006-01-02", req.RecurringUntil)
		if err != nil {
			return admin.BlockRequest{}, fmt.Errorf("invalid recurring_until; expected YYYY-MM-DD")
		}
	}
	return admin.BlockRequest{
		Actor:          actor,
		RoomID:         req.RoomID,
		Start:          start,
		End:            end,
		Reason:         req.Reason,
		Recurring:      req.Recurring,
		RecurringUntil: until,
		Force:          req.Force,
	}, nil
}

// handleBlockByID removes a block.
// DELETE /api/admin/blocks/{id}
func (s *HTTPServer) handleBlockByID(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("unblock_slot")
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	actor, err := actorFromRequest(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := pathID(r.URL.Path, "/api/admin/blocks/")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.admin.UnblockSlot(r.Context(), id, actor); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAdminBooking is the privileged edit/cancel path.
// PATCH /api/admin/bookings/{id} | DELETE /api/admin/bookings/{id}
func (s *HTTPServer) handleAdminBooking(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := pathID(r.URL.Path, "/api/admin/bookings/")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodPatch:
		metrics.IncHTTP("admin_edit_booking")
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
		b, err := s.admin.EditBooking(r.Context(), id, start, req.DurationHours, actor)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse(b))

	case http.MethodDelete:
		metrics.IncHTTP("admin_cancel_booking")
		b, err := s.admin.CancelBooking(r.Context(), id, actor)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse(b))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ReplaceLockRequest is the request body for POST /api/admin/rooms/{id}/lock.
type ReplaceLockRequest struct {
	LockID   string `json:"lock_id"`
	LockName string `json:"lock_name,omitempty"`
}

// handleAdminRoom dispatches lock maintenance for one room.
// POST /api/admin/rooms/{id}/lock | GET /api/admin/rooms/{id}/lock-status
func (s *HTTPServer) handleAdminRoom(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := pathID(r.URL.Path, "/api/admin/rooms/")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/lock"):
		metrics.IncHTTP("replace_lock")
		var req ReplaceLockRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := s.admin.ReplaceLock(r.Context(), id, req.LockID, req.LockName, actor)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/lock-status"):
		metrics.IncHTTP("lock_status")
		status, err := s.admin.LockStatus(r.Context(), id, actor)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)

	default:
		writeError(w, http.StatusNotFound, "unknown admin room operation")
	}
}

// handleResync triggers an immediate credential reconciliation pass.
// POST /api/admin/resync
func (s *HTTPServer) handleResync(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("resync")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	s.reconciler.RunNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// MatchEntryRequest is the request body for POST /api/admin/access-log/match.
type MatchEntryRequest struct {
	Timestamp string `json:"timestamp"` // Format: RFC3339
	Method    string `json:"method,omitempty"`
	Passcode  string `json:"passcode,omitempty"`
	LockID    string `json:"lock_id,omitempty"`
}

// handleMatchEntry resolves a door-unlock event to the booking that
// admitted it, for the access-log reporting view.
// POST /api/admin/access-log/match
func (s *HTTPServer) handleMatchEntry(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("match_entry")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req MatchEntryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ts, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timestamp; expected RFC3339")
		return
	}

	b, err := s.matcher.MatchEntryToBooking(r.Context(), models.UnlockEvent{
		Timestamp: ts,
		Method:    req.Method,
		Passcode:  req.Passcode,
		LockID:    req.LockID,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if b == nil {
		writeJSON(w, http.StatusOK, map[string]any{"matched": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matched": true, "booking": bookingResponse(b)})
}

// handleExport streams the xlsx booking schedule.
// GET /api/admin/export?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from; expected YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to; expected YYYY-MM-DD")
		return
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="bookings_%s_%s.xlsx"`, from.Format("20060102"), to.Format("20060102")))
	if err := s.exporter.Export(r.Context(), from, to, w); err != nil {
		s.log.Error().Err(err).Msg("export failed")
	}
}
