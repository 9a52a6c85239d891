package model

import (
	"time"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
)

// RepeatUnit is the unit of the batch repeat interval.
type RepeatUnit string

const (
	RepeatMinutes RepeatUnit = "minutes"
	RepeatHours   RepeatUnit = "hours"
	RepeatDays    RepeatUnit = "days"
)

// PacingPolicy controls how a recipient list is spread over time.
type PacingPolicy struct {
	BatchSize            int        `db:"batch_size" json:"batch_size"`
	MinDelaySeconds      int        `db:"min_delay_seconds" json:"min_delay_seconds"`
	MaxDelaySeconds      int        `db:"max_delay_seconds" json:"max_delay_seconds"`
	SleepAfterMessages   int        `db:"sleep_after_messages" json:"sleep_after_messages,omitempty"`
	SleepDurationSeconds int        `db:"sleep_duration_seconds" json:"sleep_duration_seconds,omitempty"`
	ActiveHoursStart     string     `db:"active_hours_start" json:"active_hours_start,omitempty"` // "HH:MM"
	ActiveHoursEnd       string     `db:"active_hours_end" json:"active_hours_end,omitempty"`
	RepeatEvery          int        `db:"repeat_every" json:"repeat_every,omitempty"`
	RepeatUnit           RepeatUnit `db:"repeat_unit" json:"repeat_unit,omitempty"`
	InfiniteLoop         bool       `db:"infinite_loop" json:"infinite_loop,omitempty"`
}

// RepeatInterval converts the repeat settings to a duration. Zero means
// batches fire back-to-back, subject only to per-message delay.
func (p PacingPolicy) RepeatInterval() time.Duration {
	if p.RepeatEvery <= 0 {
		return 0
	}
	switch p.RepeatUnit {
	case RepeatMinutes:
		return time.Duration(p.RepeatEvery) * time.Minute
	case RepeatHours:
		return time.Duration(p.RepeatEvery) * time.Hour
	case RepeatDays:
		return time.Duration(p.RepeatEvery) * 24 * time.Hour
	default:
		return 0
	}
}

// HasActiveHours reports whether an active-hours window is configured.
func (p PacingPolicy) HasActiveHours() bool {
	return p.ActiveHoursStart != "" && p.ActiveHoursEnd != ""
}

// Validate rejects inconsistent pacing at plan-creation time. Nothing is
// silently clamped.
func (p PacingPolicy) Validate() error {
	if p.BatchSize < 1 {
		return appErrors.NewConfigurationError("batch_size", "must be at least 1")
	}
	if p.MinDelaySeconds < 0 || p.MaxDelaySeconds < 0 {
		return appErrors.NewConfigurationError("delay", "delay seconds cannot be negative")
	}
	if p.MaxDelaySeconds < p.MinDelaySeconds {
		return appErrors.NewConfigurationError("max_delay_seconds", "must be >= min_delay_seconds")
	}
	if p.SleepAfterMessages > 0 && p.SleepDurationSeconds <= 0 {
		return appErrors.NewConfigurationError("sleep_duration_seconds", "required when sleep_after_messages is set")
	}
	if (p.ActiveHoursStart == "") != (p.ActiveHoursEnd == "") {
		return appErrors.NewConfigurationError("active_hours", "start and end must be set together")
	}
	if p.HasActiveHours() {
		for _, v := range []string{p.ActiveHoursStart, p.ActiveHoursEnd} {
			if _, err := time.Parse("15:04", v); err != nil {
				return appErrors.NewConfigurationError("active_hours", "expected HH:MM, got "+v)
			}
		}
	}
	if p.RepeatEvery > 0 {
		switch p.RepeatUnit {
		case RepeatMinutes, RepeatHours, RepeatDays:
		default:
			return appErrors.NewConfigurationError("repeat_unit", "must be minutes, hours or days")
		}
	}
	if p.InfiniteLoop && p.RepeatInterval() <= 0 {
		return appErrors.NewConfigurationError("infinite_loop", "requires a repeat interval")
	}
	return nil
}
