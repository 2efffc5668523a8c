package services

import (
	"strings"
	"time"

	"github.com/sayfoulaye/backend/internal/config"
)

// Period tokens accepted by the window resolver.
const (
	PeriodToday     = "today"
	PeriodYesterday = "yesterday"
	PeriodWeek      = "week"
	PeriodMonth     = "month"
	PeriodYear      = "year"
	PeriodAll       = "all"
	PeriodCustom    = "custom"
)

// Window is the resolved time range for a query. End is inclusive ("lte" in
// the store filters). Unbounded means no time constraint at all.
type Window struct {
	Start     time.Time
	End       time.Time
	Unbounded bool
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Unbounded {
		return true
	}
	return !t.Before(w.Start) && !t.After(w.End)
}

// ResolveWindow maps a period token plus the configured daily reset
// time-of-day into a concrete time range. The business day starts at the
// reset instant, not at midnight, so "today" right after midnight with a
// non-midnight reset still belongs to the previous business day.
//
// customDate is only consulted for PeriodCustom and names the calendar day of
// the wanted business day.
func ResolveWindow(period string, now time.Time, rc config.ResetConfig, customDate *time.Time) (Window, error) {
	anchor := rc.ResetInstant(now)
	if anchor.After(now) {
		// Before today's reset instant: the running business day opened at
		// yesterday's reset instant.
		anchor = anchor.AddDate(0, 0, -1)
	}

	switch strings.ToLower(period) {
	case PeriodToday, "":
		return Window{Start: anchor, End: now}, nil

	case PeriodYesterday:
		start := anchor.AddDate(0, 0, -1)
		return Window{Start: start, End: anchor.Add(-time.Second)}, nil

	case PeriodCustom:
		if customDate == nil {
			return Window{}, NewValidationError("custom period requires a date")
		}
		start := rc.ResetInstant(*customDate)
		end := rc.ResetInstant(customDate.AddDate(0, 0, 1)).Add(-time.Second)
		return Window{Start: start, End: end}, nil

	case PeriodWeek:
		return Window{Start: anchor.AddDate(0, 0, -7), End: now}, nil

	case PeriodMonth:
		loc := anchor.Location()
		start := time.Date(anchor.Year(), anchor.Month(), 1, rc.Hour, rc.Minute, 0, 0, loc)
		return Window{Start: start, End: now}, nil

	case PeriodYear:
		loc := anchor.Location()
		start := time.Date(anchor.Year(), time.January, 1, rc.Hour, rc.Minute, 0, 0, loc)
		return Window{Start: start, End: now}, nil

	case PeriodAll:
		return Window{Unbounded: true}, nil

	default:
		return Window{}, NewValidationError("unknown period %q", period)
	}
}

// IsHistorical reports whether the resolved window ends strictly before the
// current business day, i.e. the dashboard must read snapshot data instead of
// live balances.
func IsHistorical(period string, now time.Time, rc config.ResetConfig, customDate *time.Time) bool {
	switch strings.ToLower(period) {
	case PeriodYesterday:
		return true
	case PeriodCustom:
		if customDate == nil {
			return false
		}
		w, err := ResolveWindow(PeriodToday, now, rc, nil)
		if err != nil {
			return false
		}
		return rc.ResetInstant(*customDate).Before(w.Start)
	default:
		return false
	}
}
