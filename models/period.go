package models

import (
	"fmt"
	"time"
)

type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodAllTime PeriodType = "alltime"
)

// AllTimeKey is the period key shared by every all-time leaderboard entry.
const AllTimeKey = "all-time"

const dayLayout = "2006-01-02"

// RankingPeriods lists the periods every completed session is ranked in.
var RankingPeriods = []PeriodType{PeriodDaily, PeriodWeekly, PeriodAllTime}

// PoolPeriods lists the periods that accumulate prize pools.
var PoolPeriods = []PeriodType{PeriodDaily, PeriodWeekly}

func (p PeriodType) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodAllTime:
		return true
	}
	return false
}

// HasPool reports whether prize pools exist for this period type.
func (p PeriodType) HasPool() bool {
	return p == PeriodDaily || p == PeriodWeekly
}

// DayKey returns the UTC calendar day of now as YYYY-MM-DD.
func DayKey(now time.Time) string {
	return now.UTC().Format(dayLayout)
}

// WeekStart returns Monday 00:00 UTC of the ISO week containing now.
func WeekStart(now time.Time) time.Time {
	t := now.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(t.Weekday()) + 6) % 7
	return midnight.AddDate(0, 0, -offset)
}

// WeekKey returns the Monday of now's ISO week as YYYY-MM-DD.
func WeekKey(now time.Time) string {
	return WeekStart(now).Format(dayLayout)
}

// PeriodKey returns the key of the period instance containing now.
// Unknown period types yield "".
func PeriodKey(p PeriodType, now time.Time) string {
	switch p {
	case PeriodDaily:
		return DayKey(now)
	case PeriodWeekly:
		return WeekKey(now)
	case PeriodAllTime:
		return AllTimeKey
	}
	return ""
}

// PreviousPeriodKey returns the key of the period instance that ended most recently before now.
func PreviousPeriodKey(p PeriodType, now time.Time) string {
	switch p {
	case PeriodDaily:
		return DayKey(now.UTC().AddDate(0, 0, -1))
	case PeriodWeekly:
		return WeekKey(now.UTC().AddDate(0, 0, -7))
	case PeriodAllTime:
		return AllTimeKey
	}
	return ""
}

// PeriodWindow returns the half-open time range [start, end) covered by a period key.
// The all-time period is unbounded and yields zero times.
func PeriodWindow(p PeriodType, key string) (start, end time.Time, err error) {
	if p == PeriodAllTime {
		if key != AllTimeKey {
			return time.Time{}, time.Time{}, fmt.Errorf("all-time period key must be %q, got %q", AllTimeKey, key)
		}
		return time.Time{}, time.Time{}, nil
	}

	start, err = time.ParseInLocation(dayLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid period key %q: %w", key, err)
	}

	switch p {
	case PeriodDaily:
		return start, start.AddDate(0, 0, 1), nil
	case PeriodWeekly:
		if start.Weekday() != time.Monday {
			return time.Time{}, time.Time{}, fmt.Errorf("weekly period key %q is not a Monday", key)
		}
		return start, start.AddDate(0, 0, 7), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown period type %q", p)
}
