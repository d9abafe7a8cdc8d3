// Package api exposes the booking core over HTTP JSON. Authentication is
// out of scope: an upstream gateway authenticates users and forwards the
// identity in X-User-ID; admin endpoints additionally require the shared
// admin API key.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/admin"
	"studiobook/internal/availability"
	"studiobook/internal/booking"
	"studiobook/internal/database"
	"studiobook/internal/models"
)

// Bookings is the booking-service surface the handlers call.
type Bookings interface {
	Create(ctx context.Context, req booking.CreateRequest) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error)
	Edit(ctx context.Context, req booking.EditRequest) (*models.Booking, error)
	Get(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error)
	Quote(ctx context.Context, roomID int64, start time.Time, durationHours int) (int64, error)
}

// Admin is the override-layer surface.
type Admin interface {
	BlockSlot(ctx context.Context, req admin.BlockRequest) (*models.BlockedSlot, error)
	UnblockSlot(ctx context.Context, blockID int64, actor models.Actor) error
	ListBlocks(ctx context.Context, roomID int64, actor models.Actor) ([]models.BlockedSlot, error)
	EditBooking(ctx context.Context, bookingID int64, start time.Time, durationHours int, actor models.Actor) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error)
	ReplaceLock(ctx context.Context, roomID int64, lockID, lockName string, actor models.Actor) (*models.ResyncResult, error)
	LockStatus(ctx context.Context, roomID int64, actor models.Actor) (*models.LockStatus, error)
}

// Availability answers free-window queries.
type Availability interface {
	FreeWindows(ctx context.Context, room *models.Room, date time.Time) ([]availability.Window, error)
}

// RoomStore provides room lookups for the public endpoints.
type RoomStore interface {
	GetRoomByID(ctx context.Context, id int64) (*models.Room, error)
	ListActiveRooms(ctx context.Context) ([]models.Room, error)
}

// Exporter produces the xlsx schedule download.
type Exporter interface {
	Export(ctx context.Context, from, to time.Time, w io.Writer) error
}

// Reconciler triggers an immediate credential retry pass.
type Reconciler interface {
	RunNow(ctx context.Context)
}

// Matcher resolves raw door-unlock events to bookings.
type Matcher interface {
	MatchEntryToBooking(ctx context.Context, event models.UnlockEvent) (*models.Booking, error)
}

// HTTPServer serves the booking API.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger

	bookings   Bookings
	admin      Admin
	avail      Availability
	rooms      RoomStore
	exporter   Exporter
	reconciler Reconciler
	matcher    Matcher
	adminKey   string
}

// NewHTTPServer wires routes and returns a server listening on addr when
// Start is called.
func NewHTTPServer(addr string, bookings Bookings, adminSvc Admin, avail Availability, rooms RoomStore,
	exporter Exporter, reconciler Reconciler, matcher Matcher, adminKey string, logger zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		log:        logger.With().Str("component", "api").Logger(),
		bookings:   bookings,
		admin:      adminSvc,
		avail:      avail,
		rooms:      rooms,
		exporter:   exporter,
		reconciler: reconciler,
		matcher:    matcher,
		adminKey:   adminKey,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/rooms", s.handleRooms)
	mux.HandleFunc("/api/availability", s.handleAvailability)
	mux.HandleFunc("/api/bookings/quote", s.handleQuote)
	mux.HandleFunc("/api/bookings", s.handleCreateBooking)
	mux.HandleFunc("/api/bookings/", s.handleBookingByID)

	mux.HandleFunc("/api/admin/blocks", s.requireAdminKey(s.handleBlocks))
	mux.HandleFunc("/api/admin/blocks/", s.requireAdminKey(s.handleBlockByID))
	mux.HandleFunc("/api/admin/bookings/", s.requireAdminKey(s.handleAdminBooking))
	mux.HandleFunc("/api/admin/rooms/", s.requireAdminKey(s.handleAdminRoom))
	mux.HandleFunc("/api/admin/resync", s.requireAdminKey(s.handleResync))
	mux.HandleFunc("/api/admin/export", s.requireAdminKey(s.handleExport))
	mux.HandleFunc("/api/admin/access-log/match", s.requireAdminKey(s.handleMatchEntry))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("api server listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the routing table for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdminKey guards the admin routes with the shared API key.
func (s *HTTPServer) requireAdminKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" || r.Header.Get("X-API-Key") != s.adminKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

// actorFromRequest builds the explicit actor every core operation takes.
// Admin privilege comes from the route guard, not from the caller's claim.
func actorFromRequest(r *http.Request, isAdmin bool) (models.Actor, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return models.Actor{}, fmt.Errorf("missing X-User-ID header")
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return models.Actor{}, fmt.Errorf("invalid X-User-ID header")
	}
	return models.Actor{UserID: userID, Admin: isAdmin}, nil
}

func pathID(path, prefix string) (int64, error) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimSuffix(rest, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id in path")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the core error taxonomy onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "booking was modified concurrently; retry")
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	default:
		s.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
