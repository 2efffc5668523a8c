package config

import (
	"time"

	"github.com/spf13/viper"
)

// ResetConfig carries the daily reset time-of-day. It is loaded once in main
// and threaded explicitly into every service that computes day boundaries, so
// tests can vary it per case without shared state.
//
// Changing the configured reset time does not retroactively correct windows
// that were computed under the old value; the resolver always applies the
// value it is handed.
type ResetConfig struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// LoadResetConfig reads the reset time from viper with sane defaults
// (midnight, local time).
func LoadResetConfig() ResetConfig {
	viper.SetDefault("reset.hour", 0)
	viper.SetDefault("reset.minute", 0)
	viper.SetDefault("reset.timezone", "UTC")

	loc, err := time.LoadLocation(viper.GetString("reset.timezone"))
	if err != nil {
		loc = time.UTC
	}

	return ResetConfig{
		Hour:     viper.GetInt("reset.hour"),
		Minute:   viper.GetInt("reset.minute"),
		Location: loc,
	}
}

// ResetInstant returns the reset instant on the calendar day of t.
func (rc ResetConfig) ResetInstant(t time.Time) time.Time {
	loc := rc.Location
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), rc.Hour, rc.Minute, 0, 0, loc)
}
