// Package pricing computes the price of a booking window. Quotes are pure
// and deterministic, safe to call speculatively for UI previews without
// committing anything.
package pricing

import (
	"time"

	"studiobook/internal/models"
)

// DiscountThresholdHours is the duration above which the volume discount
// applies.
const DiscountThresholdHours = 4

// Quote returns the price in pence for booking the room from start for
// durationHours whole hours.
//
// Flat-rate rooms charge durationHours * hourly rate. Day/evening rooms
// partition the booking into hourly segments and charge each segment by
// whether its hour falls inside the room's day window; segments crossing
// midnight wrap modulo 24. Bookings longer than DiscountThresholdHours get
// 10% off the subtotal, applied once after rate summation.
func Quote(room *models.Room, start time.Time, durationHours int) int64 {
	if durationHours <= 0 {
		return 0
	}

	var subtotal int64
	switch room.Pricing.Mode {
	case models.PricingTimeOfDay:
		for i := 0; i < durationHours; i++ {
			hour := (start.Hour() + i) % 24
			if inDayWindow(hour, room.Pricing.DayStart, room.Pricing.DayEnd) {
				subtotal += room.Pricing.DayRate
			} else {
				subtotal += room.Pricing.EveningRate
			}
		}
	default:
		subtotal = int64(durationHours) * room.Pricing.HourlyRate
	}

	if durationHours > DiscountThresholdHours {
		subtotal = subtotal * 9 / 10
	}
	return subtotal
}

// inDayWindow checks hour against the half-open window [dayStart, dayEnd),
// wrapping when the window crosses midnight.
func inDayWindow(hour, dayStart, dayEnd int) bool {
	if dayStart <= dayEnd {
		return hour >= dayStart && hour < dayEnd
	}
	return hour >= dayStart || hour < dayEnd
}

// IsEvening reports whether the hour falls outside the room's day window.
// Flat-rate rooms have no day window, so nothing counts as evening.
func IsEvening(room *models.Room, hour int) bool {
	if room.Pricing.Mode != models.PricingTimeOfDay {
		return false
	}
	return !inDayWindow(hour%24, room.Pricing.DayStart, room.Pricing.DayEnd)
}
