package trading

import (
	"fmt"
	"strings"
	"time"

	"github.com/scmhub/calendar"

	"stofina-realtime/internal/config"
	apperrors "stofina-realtime/internal/errors"
)

// Schedule violation codes, reported in the order the rules are checked.
const (
	ScheduleMissing      = "SCHEDULE_MISSING"
	ScheduleUnparseable  = "SCHEDULE_UNPARSEABLE"
	ScheduleInPast       = "SCHEDULE_IN_PAST"
	ScheduleTooFar       = "SCHEDULE_TOO_FAR"
	ScheduleWeekend      = "SCHEDULE_WEEKEND"
	ScheduleOutsideHours = "SCHEDULE_OUTSIDE_HOURS"
	ScheduleHoliday      = "SCHEDULE_HOLIDAY"
)

// APITimeLayout is the scheduled-time format the order service expects.
const APITimeLayout = "2006-01-02 15:04:05"

// minimum lead time used when proposing the next schedulable time
const scheduleLead = 5 * time.Minute

// ScheduleRules decides whether a time is acceptable for a scheduled order.
type ScheduleRules struct {
	Location    *time.Location
	OpenMinute  int // minutes after midnight, inclusive
	CloseMinute int // minutes after midnight, inclusive
	MaxAhead    time.Duration

	// Calendar enables the exchange holiday check when set.
	Calendar *calendar.Calendar
}

// DefaultScheduleRules returns Borsa Istanbul hours: 09:30-18:00, up to 7 days ahead.
func DefaultScheduleRules() *ScheduleRules {
	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		loc = time.FixedZone("TRT", 3*3600)
	}
	return &ScheduleRules{
		Location:    loc,
		OpenMinute:  9*60 + 30,
		CloseMinute: 18 * 60,
		MaxAhead:    7 * 24 * time.Hour,
	}
}

// NewScheduleRules builds the rules from the [orders] config section.
func NewScheduleRules(cfg config.OrderConfig) (*ScheduleRules, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "orders.timezone %q", cfg.Timezone)
	}
	open, err := config.ParseClock(cfg.MarketOpen)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, err.Error())
	}
	closing, err := config.ParseClock(cfg.MarketClose)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, err.Error())
	}

	rules := &ScheduleRules{
		Location:    loc,
		OpenMinute:  open,
		CloseMinute: closing,
		MaxAhead:    cfg.MaxScheduleAhead,
	}
	if rules.MaxAhead <= 0 {
		rules.MaxAhead = 7 * 24 * time.Hour
	}

	if cfg.HolidayCalendar {
		mic := strings.ToLower(cfg.CalendarMIC)
		var cal *calendar.Calendar
		if mic == "xist" {
			cal = BorsaIstanbulCalendar(loc)
		} else {
			cal = calendar.GetCalendar(mic)
		}
		if cal == nil {
			return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "no holiday calendar for MIC %q", mic)
		}
		rules.Calendar = cal
	}
	return rules, nil
}

// BorsaIstanbulCalendar returns the fixed-date Turkish public holidays on which Borsa
// Istanbul is closed. Religious holidays move with the lunar calendar and are not included.
func BorsaIstanbulCalendar(loc *time.Location) *calendar.Calendar {
	cal := calendar.NewCalendar("XIST", loc)
	cal.AddHolidays(
		calendar.NewYear.Copy(),
		fixedHoliday("National Sovereignty and Children's Day", time.April, 23),
		fixedHoliday("Labour and Solidarity Day", time.May, 1),
		fixedHoliday("Commemoration of Atatürk, Youth and Sports Day", time.May, 19),
		fixedHoliday("Democracy and National Unity Day", time.July, 15),
		fixedHoliday("Victory Day", time.August, 30),
		fixedHoliday("Republic Day", time.October, 29),
	)
	return cal
}

func fixedHoliday(name string, month time.Month, day int) *calendar.Holiday {
	h := calendar.NewYear.Copy(name)
	h.Month = month
	h.Day = day
	return h
}

func (r *ScheduleRules) violation(code, msg string) error {
	return apperrors.NewValidationError("scheduled_time", code, msg)
}

// Validate checks t against the rules in order and returns the first violation as a
// *errors.ValidationError.
func (r *ScheduleRules) Validate(t, now time.Time) error {
	if t.IsZero() {
		return r.violation(ScheduleMissing, "a date and time must be chosen for a scheduled order")
	}
	if !t.After(now) {
		return r.violation(ScheduleInPast, "scheduled order must be set to a future time")
	}
	if t.After(now.Add(r.MaxAhead)) {
		return r.violation(ScheduleTooFar, fmt.Sprintf("scheduled order can be at most %s ahead", formatAhead(r.MaxAhead)))
	}

	local := t.In(r.Location)
	if !isWeekday(local) {
		return r.violation(ScheduleWeekend, "scheduled order can only be set on weekdays")
	}
	if !r.withinHours(local) {
		return r.violation(ScheduleOutsideHours, fmt.Sprintf("scheduled order must be within market hours (%s-%s)",
			formatMinute(r.OpenMinute), formatMinute(r.CloseMinute)))
	}
	if r.isHoliday(local) {
		return r.violation(ScheduleHoliday, "scheduled order falls on an exchange holiday")
	}
	return nil
}

// NextValidMarketTime proposes the earliest schedulable time at least five minutes after
// now: today if the market is still open then, otherwise the next business day's open.
func (r *ScheduleRules) NextValidMarketTime(now time.Time) time.Time {
	next := now.In(r.Location).Add(scheduleLead).Truncate(time.Minute)
	if next.Before(now.Add(scheduleLead)) {
		next = next.Add(time.Minute)
	}

	minute := next.Hour()*60 + next.Minute()
	switch {
	case minute < r.OpenMinute:
		next = r.openOn(next)
	case minute > r.CloseMinute:
		next = r.openOn(next.AddDate(0, 0, 1))
	}

	for !r.isBusinessDay(next) {
		next = r.openOn(next.AddDate(0, 0, 1))
	}
	return next
}

// FormatForAPI renders t in market time using APITimeLayout.
func (r *ScheduleRules) FormatForAPI(t time.Time) string {
	return t.In(r.Location).Format(APITimeLayout)
}

// Parse reads a user-entered time in market time. It accepts "YYYY-MM-DD HH:MM",
// "YYYY-MM-DD HH:MM:SS" and RFC 3339.
func (r *ScheduleRules) Parse(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"2006-01-02 15:04", APITimeLayout, "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, value, r.Location); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, apperrors.NewValidationError("scheduled_time", ScheduleUnparseable,
		fmt.Sprintf("cannot parse %q (want YYYY-MM-DD HH:MM)", value))
}

func (r *ScheduleRules) withinHours(local time.Time) bool {
	minute := local.Hour()*60 + local.Minute()
	return minute >= r.OpenMinute && minute <= r.CloseMinute
}

func (r *ScheduleRules) isBusinessDay(local time.Time) bool {
	if !isWeekday(local) {
		return false
	}
	return !r.isHoliday(local)
}

// isHoliday looks up the market-local calendar date of t. Holidays are keyed by midnight
// in the calendar's own zone, and dates outside the calendar's years are never holidays.
func (r *ScheduleRules) isHoliday(t time.Time) bool {
	if r.Calendar == nil {
		return false
	}
	y, m, d := t.In(r.Location).Date()
	start, end := r.Calendar.Years()
	if y < start || y > end {
		return false
	}
	loc := r.Calendar.Loc
	if loc == nil {
		loc = r.Location
	}
	return r.Calendar.IsHoliday(time.Date(y, m, d, 0, 0, 0, 0, loc))
}

func (r *ScheduleRules) openOn(day time.Time) time.Time {
	y, m, d := day.In(r.Location).Date()
	return time.Date(y, m, d, r.OpenMinute/60, r.OpenMinute%60, 0, 0, r.Location)
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func formatAhead(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}
