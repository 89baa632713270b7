package schedule

import (
	"time"
)

// AllDays is the days mask covering the whole week.
const AllDays = 0x7F

// Schedule is a device's auto-arm/auto-disarm configuration.
//
// ArmTime and DisarmTime are HH:MM in the site's local time; an empty
// string disables that side. DaysMask is a 7-bit mask with bit 0 =
// Sunday, matching time.Weekday.
type Schedule struct {
	DeviceID            string    `json:"device_id"`
	Enabled             bool      `json:"enabled"`
	ArmTime             string    `json:"arm_time,omitempty"`
	DisarmTime          string    `json:"disarm_time,omitempty"`
	DaysMask            int       `json:"days_mask"`
	NotifyBeforeMinutes int       `json:"notify_before_minutes"`
	LastArmedOn         string    `json:"last_armed_on,omitempty"`
	LastDisarmedOn      string    `json:"last_disarmed_on,omitempty"`
	Dirty               bool      `json:"dirty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ActiveOn reports whether the schedule applies on the given weekday.
func (s *Schedule) ActiveOn(day time.Weekday) bool {
	return s.DaysMask&(1<<uint(day)) != 0
}

// Validate checks the schedule's time strings and days mask.
func (s *Schedule) Validate() error {
	if s.ArmTime != "" {
		if _, err := time.Parse("15:04", s.ArmTime); err != nil {
			return ErrInvalidTime
		}
	}
	if s.DisarmTime != "" {
		if _, err := time.Parse("15:04", s.DisarmTime); err != nil {
			return ErrInvalidTime
		}
	}
	if s.DaysMask < 1 || s.DaysMask > AllDays {
		return ErrInvalidDaysMask
	}
	return nil
}

// DeepCopy returns an independent copy of the schedule.
func (s *Schedule) DeepCopy() *Schedule {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
