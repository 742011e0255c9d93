package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Date is a calendar date in whatever calendar the source file uses. It is
// not a time.Time: 360_day dates such as Feb 30 exist.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// AddMonths returns the first day of the month n months after d.
func (d Date) AddMonths(n int) Date {
	m := int(d.Month) - 1 + n
	y := d.Year + floorDiv(m, 12)
	m = m - floorDiv(m, 12)*12
	return Date{Year: y, Month: time.Month(m + 1), Day: 1}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	var y, m, day int
	if _, err := fmt.Sscanf(string(b), "%d-%d-%d", &y, &m, &day); err != nil {
		return fmt.Errorf("parse date %q: %w", b, err)
	}
	if m < 1 || m > 12 || day < 1 || day > 31 {
		return fmt.Errorf("parse date %q: out of range", b)
	}
	*d = Date{Year: y, Month: time.Month(m), Day: day}
	return nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Calendar identifies a CF calendar attribute value.
type Calendar string

const (
	Standard Calendar = "standard"
	NoLeap   Calendar = "noleap"
	AllLeap  Calendar = "all_leap"
	Day360   Calendar = "360_day"
)

// ParseCalendar normalises CF calendar names. An empty name is standard.
func ParseCalendar(s string) (Calendar, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "gregorian", "proleptic_gregorian", "julian":
		return Standard, nil
	case "noleap", "365_day":
		return NoLeap, nil
	case "all_leap", "366_day":
		return AllLeap, nil
	case "360_day":
		return Day360, nil
	}
	return "", fmt.Errorf("grid: unsupported calendar %q", s)
}

var (
	noLeapDays  = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	allLeapDays = [12]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
)

func (c Calendar) monthDays() [12]int {
	switch c {
	case AllLeap:
		return allLeapDays
	case Day360:
		return [12]int{30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30}
	}
	return noLeapDays
}

// TimeUnits is a decoded CF "<unit> since <reference>" string.
type TimeUnits struct {
	Step      time.Duration
	Reference time.Time
}

// ParseTimeUnits parses strings like "days since 1949-12-01 00:00:00".
func ParseTimeUnits(s string) (TimeUnits, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(s), " since ")
	if !ok {
		return TimeUnits{}, fmt.Errorf("grid: not a time unit: %q", s)
	}
	var step time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "days", "day", "d":
		step = 24 * time.Hour
	case "hours", "hour", "h":
		step = time.Hour
	case "minutes", "minute", "min":
		step = time.Minute
	case "seconds", "second", "s", "sec":
		step = time.Second
	default:
		return TimeUnits{}, fmt.Errorf("grid: unsupported time step %q", unit)
	}
	t, err := parseReference(ref)
	if err != nil {
		return TimeUnits{}, err
	}
	return TimeUnits{Step: step, Reference: t}, nil
}

// parseReference accepts loosely formatted CF reference dates: single digit
// months and days, a "T" or space separator, optional seconds and zone.
func parseReference(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "UTC")
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")
	datePart, clockPart, _ := strings.Cut(strings.Replace(s, "T", " ", 1), " ")

	ymd := strings.Split(datePart, "-")
	if len(ymd) != 3 {
		return time.Time{}, fmt.Errorf("grid: bad reference date %q", s)
	}
	var nums [3]int
	for i, p := range ymd {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("grid: bad reference date %q: %w", s, err)
		}
		nums[i] = n
	}

	var hms [3]float64
	clockPart = strings.TrimSpace(clockPart)
	if i := strings.IndexAny(clockPart, "+ "); i > 0 {
		clockPart = clockPart[:i]
	}
	if clockPart != "" {
		for i, p := range strings.Split(clockPart, ":") {
			if i > 2 {
				break
			}
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("grid: bad reference time %q: %w", s, err)
			}
			hms[i] = v
		}
	}
	sec := int(hms[2])
	nsec := int((hms[2] - float64(sec)) * 1e9)
	return time.Date(nums[0], time.Month(nums[1]), nums[2], int(hms[0]), int(hms[1]), sec, nsec, time.UTC), nil
}

// Decode converts raw offsets into calendar dates.
func (u TimeUnits) Decode(values []float64, cal Calendar) []Date {
	out := make([]Date, len(values))
	for i, v := range values {
		out[i] = u.date(v, cal)
	}
	return out
}

func (u TimeUnits) date(v float64, cal Calendar) Date {
	if math.IsNaN(v) {
		return Date{}
	}
	// Work in days: offsets beyond ~292 years overflow time.Duration.
	ref := u.Reference
	clock := time.Duration(ref.Hour())*time.Hour + time.Duration(ref.Minute())*time.Minute +
		time.Duration(ref.Second())*time.Second + time.Duration(ref.Nanosecond())
	day := float64(24 * time.Hour)
	whole := int(math.Floor(float64(clock)/day + v*(float64(u.Step)/day)))
	if cal == Standard {
		t := time.Date(ref.Year(), ref.Month(), ref.Day()+whole, 0, 0, 0, 0, time.UTC)
		return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
	}

	// Fixed-length calendars: count days from year zero, then walk back.
	lengths := cal.monthDays()
	yearLen := 0
	for _, l := range lengths {
		yearLen += l
	}
	refMonth, refDay := int(ref.Month())-1, ref.Day()
	if refDay > lengths[refMonth] {
		refDay = lengths[refMonth]
	}
	dayOfYear := refDay - 1
	for m := 0; m < refMonth; m++ {
		dayOfYear += lengths[m]
	}
	days := ref.Year()*yearLen + dayOfYear + whole

	year := floorDiv(days, yearLen)
	rem := days - year*yearLen
	month := 0
	for month < 11 && rem >= lengths[month] {
		rem -= lengths[month]
		month++
	}
	return Date{Year: year, Month: time.Month(month + 1), Day: rem + 1}
}

// DaysIn returns the number of days in month of year on the real
// (proleptic Gregorian) calendar.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
