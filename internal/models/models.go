package models

import "time"

// Booking statuses. "completed" is derived at read time, never written.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Credential states for the smart-lock passcode attached to a booking.
const (
	CredentialNone    = "none"
	CredentialPending = "pending"
	CredentialActive  = "active"
	CredentialRevoked = "revoked"
)

// Pricing modes for a room.
const (
	PricingFlat      = "flat"
	PricingTimeOfDay = "time_of_day"
)

// PricingPolicy is a tagged variant: either a flat hourly rate or a
// day/evening rate pair with a half-open day window [DayStart, DayEnd).
// All amounts are in pence.
type PricingPolicy struct {
	Mode        string `yaml:"mode" json:"mode"`
	HourlyRate  int64  `yaml:"hourly_rate,omitempty" json:"hourly_rate,omitempty"`
	DayRate     int64  `yaml:"day_rate,omitempty" json:"day_rate,omitempty"`
	EveningRate int64  `yaml:"evening_rate,omitempty" json:"evening_rate,omitempty"`
	DayStart    int    `yaml:"day_start,omitempty" json:"day_start,omitempty"`
	DayEnd      int    `yaml:"day_end,omitempty" json:"day_end,omitempty"`
}

// Room represents a physical rehearsal room.
type Room struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Equipment       []string      `json:"equipment,omitempty"`
	Pricing         PricingPolicy `json:"pricing"`
	LockID          string        `json:"lock_id,omitempty"`
	LockName        string        `json:"lock_name,omitempty"`
	ClosedWeekdays  []int         `json:"closed_weekdays,omitempty"` // 0=Sunday .. 6=Saturday
	EveningMinHours int           `json:"evening_min_hours,omitempty"`
	IsActive        bool          `json:"is_active"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// HasLock reports whether the room has a smart lock configured.
func (r *Room) HasLock() bool {
	return r.LockID != ""
}

// ClosedOn reports whether the room is closed on the given weekday.
func (r *Room) ClosedOn(day time.Weekday) bool {
	for _, d := range r.ClosedWeekdays {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

// Booking represents a confirmed (or cancelled) room reservation.
type Booking struct {
	ID              int64     `json:"id"`
	Reference       string    `json:"reference"`
	UserID          int64     `json:"user_id"`
	RoomID          int64     `json:"room_id"`
	RoomName        string    `json:"room_name,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationHours   int       `json:"duration_hours"`
	PricePence      int64     `json:"price_pence"`
	Status          string    `json:"status"`
	AccessCode      string    `json:"access_code"`
	Passcode        string    `json:"passcode,omitempty"`
	CredentialID    string    `json:"credential_id,omitempty"`
	CredentialState string    `json:"credential_state"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Version         int64     `json:"version"`
}

// EffectiveStatus returns the booking status as seen at a point in time.
// A confirmed booking whose window has passed reads as completed.
func (b *Booking) EffectiveStatus(now time.Time) string {
	if b.Status == StatusConfirmed && !now.Before(b.EndTime) {
		return StatusCompleted
	}
	return b.Status
}

// Overlaps checks the booking window against [start, end) using half-open
// interval semantics: touching endpoints do not conflict.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && start.Before(b.EndTime)
}

// ActiveWindow returns the interval during which the booking's credentials
// should open the door, including the pre-activation grace period.
func (b *Booking) ActiveWindow(grace time.Duration) (time.Time, time.Time) {
	return b.StartTime.Add(-grace), b.EndTime
}

// BlockedSlot is an admin-imposed unavailability interval. A recurring slot
// acts as a rule: it repeats on the same weekday and time-of-day until
// RecurringUntil, with instances materialized at query time.
type BlockedSlot struct {
	ID             int64     `json:"id"`
	RoomID         int64     `json:"room_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Reason         string    `json:"reason,omitempty"`
	CreatedBy      int64     `json:"created_by"`
	Recurring      bool      `json:"recurring"`
	RecurringUntil time.Time `json:"recurring_until,omitempty"`
	ParentID       int64     `json:"parent_id,omitempty"` // set on materialized instances
	CreatedAt      time.Time `json:"created_at"`
}

// Overlaps checks the blocked interval against [start, end).
func (s *BlockedSlot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// MaterializeOn projects a recurring rule onto a concrete date, keeping the
// rule's time-of-day. The caller is responsible for weekday and validity
// checks.
func (s *BlockedSlot) MaterializeOn(date time.Time) BlockedSlot {
	inst := *s
	inst.ParentID = s.ID
	inst.StartTime = time.Date(date.Year(), date.Month(), date.Day(),
		s.StartTime.Hour(), s.StartTime.Minute(), 0, 0, date.Location())
	inst.EndTime = inst.StartTime.Add(s.EndTime.Sub(s.StartTime))
	return inst
}

// InstanceWindows returns every concrete interval the slot occupies: the
// anchor window, plus one window per week up to RecurringUntil for a
// recurring rule.
func (s *BlockedSlot) InstanceWindows() [][2]time.Time {
	windows := [][2]time.Time{{s.StartTime, s.EndTime}}
	if !s.Recurring {
		return windows
	}
	span := s.EndTime.Sub(s.StartTime)
	for d := s.StartTime.AddDate(0, 0, 7); !d.After(s.RecurringUntil); d = d.AddDate(0, 0, 7) {
		windows = append(windows, [2]time.Time{d, d.Add(span)})
	}
	return windows
}

// AppliesOn reports whether a recurring rule generates an instance on date.
func (s *BlockedSlot) AppliesOn(date time.Time) bool {
	if !s.Recurring {
		return sameDate(s.StartTime, date)
	}
	if s.StartTime.Weekday() != date.Weekday() {
		return false
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	anchor := time.Date(s.StartTime.Year(), s.StartTime.Month(), s.StartTime.Day(), 0, 0, 0, 0, date.Location())
	if day.Before(anchor) {
		return false
	}
	return !s.RecurringUntil.IsZero() && !day.After(s.RecurringUntil)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Actor identifies who is performing an operation. It is passed explicitly
// into every core operation; nothing is read from ambient state.
type Actor struct {
	UserID int64 `json:"user_id"`
	Admin  bool  `json:"admin"`
}

// CanManage reports whether the actor may act on a booking owned by userID.
func (a Actor) CanManage(userID int64) bool {
	return a.Admin || a.UserID == userID
}

// UnlockEvent is a raw door-unlock event from the lock vendor's access log.
type UnlockEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Passcode  string    `json:"passcode,omitempty"`
	LockID    string    `json:"lock_id"`
}

// LockStatus is a point-in-time health snapshot of a lock.
type LockStatus struct {
	LockID       string    `json:"lock_id"`
	Online       bool      `json:"online"`
	BatteryLevel int       `json:"battery_level"`
	CheckedAt    time.Time `json:"checked_at"`
}

// ResyncResult summarizes a bulk passcode re-provisioning run.
type ResyncResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[int64]string  `json:"errors,omitempty"` // booking ID -> error detail
}
