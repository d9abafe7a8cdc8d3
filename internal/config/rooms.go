package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"studiobook/internal/models"
)

// RoomConfig represents a single room in rooms.yaml.
type RoomConfig struct {
	ID              int64                `yaml:"id"`
	Name            string               `yaml:"name"`
	Equipment       []string             `yaml:"equipment,omitempty"`
	Pricing         models.PricingPolicy `yaml:"pricing"`
	LockID          string               `yaml:"lock_id,omitempty"`
	LockName        string               `yaml:"lock_name,omitempty"`
	ClosedWeekdays  []int                `yaml:"closed_weekdays,omitempty"` // 0=Sunday .. 6=Saturday
	EveningMinHours int                  `yaml:"evening_min_hours,omitempty"`
	IsActive        bool                 `yaml:"is_active"`
}

// RoomsConfig is the root configuration for rooms.yaml.
type RoomsConfig struct {
	Rooms []RoomConfig `yaml:"rooms"`
}

// LoadRoomsConfig loads and validates room configuration from a YAML file.
func LoadRoomsConfig(path string) (*RoomsConfig, error) {
	if path == "" {
		path = "configs/rooms.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rooms config: %w", err)
	}

	var cfg RoomsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rooms config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate rooms config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *RoomsConfig) Validate() error {
	if len(c.Rooms) == 0 {
		return fmt.Errorf("no rooms configured")
	}

	seen := make(map[string]bool, len(c.Rooms))
	for i, room := range c.Rooms {
		if room.Name == "" {
			return fmt.Errorf("room %d: name is required", i)
		}
		if seen[room.Name] {
			return fmt.Errorf("room %q: duplicate name", room.Name)
		}
		seen[room.Name] = true

		switch room.Pricing.Mode {
		case models.PricingFlat:
			if room.Pricing.HourlyRate <= 0 {
				return fmt.Errorf("room %q: hourly_rate must be positive", room.Name)
			}
		case models.PricingTimeOfDay:
			p := room.Pricing
			if p.DayRate <= 0 || p.EveningRate <= 0 {
				return fmt.Errorf("room %q: day_rate and evening_rate must be positive", room.Name)
			}
			if p.DayStart < 0 || p.DayStart > 23 || p.DayEnd < 0 || p.DayEnd > 24 {
				return fmt.Errorf("room %q: day window out of range", room.Name)
			}
		default:
			return fmt.Errorf("room %q: unknown pricing mode %q", room.Name, room.Pricing.Mode)
		}

		for _, d := range room.ClosedWeekdays {
			if d < 0 || d > 6 {
				return fmt.Errorf("room %q: closed weekday %d out of range", room.Name, d)
			}
		}
	}
	return nil
}

// ToModel converts a RoomConfig to the domain model.
func (r *RoomConfig) ToModel() models.Room {
	return models.Room{
		ID:              r.ID,
		Name:            r.Name,
		Equipment:       r.Equipment,
		Pricing:         r.Pricing,
		LockID:          r.LockID,
		LockName:        r.LockName,
		ClosedWeekdays:  r.ClosedWeekdays,
		EveningMinHours: r.EveningMinHours,
		IsActive:        r.IsActive,
	}
}
