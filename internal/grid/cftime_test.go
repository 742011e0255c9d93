package grid

import (
	"testing"
	"time"
)

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		in   string
		step time.Duration
		ref  time.Time
	}{
		{"days since 1949-12-01 00:00:00", 24 * time.Hour, time.Date(1949, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"days since 1949-12-1", 24 * time.Hour, time.Date(1949, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"hours since 1900-01-01 00:00:00.0", time.Hour, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"seconds since 1970-01-01T00:00:00Z", time.Second, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"minutes since 2000-06-15 12:30", time.Minute, time.Date(2000, 6, 15, 12, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := ParseTimeUnits(tt.in)
			if err != nil {
				t.Fatalf("ParseTimeUnits: %v", err)
			}
			if u.Step != tt.step {
				t.Errorf("step = %v, want %v", u.Step, tt.step)
			}
			if !u.Reference.Equal(tt.ref) {
				t.Errorf("reference = %v, want %v", u.Reference, tt.ref)
			}
		})
	}
}

func TestParseTimeUnitsRejects(t *testing.T) {
	for _, in := range []string{"K", "fortnights since 2000-01-01", "days since yesterday"} {
		if _, err := ParseTimeUnits(in); err == nil {
			t.Errorf("ParseTimeUnits(%q) succeeded, want error", in)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		units string
		cal   Calendar
		value float64
		want  Date
	}{
		{"standard month", "hours since 1900-01-01 00:00:00", Standard, 24 * 31, Date{1900, time.February, 1}},
		{"standard leap", "days since 2000-02-28", Standard, 1, Date{2000, time.February, 29}},
		{"noleap skips Feb 29", "days since 2000-02-28", NoLeap, 1, Date{2000, time.March, 1}},
		{"noleap year", "days since 1949-12-01 00:00:00", NoLeap, 365, Date{1950, time.December, 1}},
		{"noleap mid month", "days since 1949-12-01 00:00:00", NoLeap, 45.5, Date{1950, time.January, 15}},
		{"360 day Feb 30", "days since 1949-12-01", Day360, 89.5, Date{1950, time.February, 30}},
		{"360 day year", "days since 1949-12-01", Day360, 360, Date{1950, time.December, 1}},
		{"all leap", "days since 2001-02-28", AllLeap, 1, Date{2001, time.February, 29}},
		{"seconds", "seconds since 1970-01-01", Standard, 1709251200, Date{2024, time.March, 1}},
		{"standard 400 years", "days since 1700-01-01", Standard, 146097, Date{2100, time.January, 1}},
		{"hours over 400 years", "hours since 1800-01-01", Standard, 146097 * 24, Date{2200, time.January, 1}},
		{"noleap 300 years", "days since 1850-01-01", NoLeap, 109500, Date{2150, time.January, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseTimeUnits(tt.units)
			if err != nil {
				t.Fatal(err)
			}
			got := u.Decode([]float64{tt.value}, tt.cal)[0]
			if got != tt.want {
				t.Errorf("Decode(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseCalendar(t *testing.T) {
	tests := map[string]Calendar{
		"":                    Standard,
		"gregorian":           Standard,
		"proleptic_gregorian": Standard,
		"365_day":             NoLeap,
		"noleap":              NoLeap,
		"366_day":             AllLeap,
		"360_day":             Day360,
	}
	for in, want := range tests {
		got, err := ParseCalendar(in)
		if err != nil || got != want {
			t.Errorf("ParseCalendar(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseCalendar("lunar"); err == nil {
		t.Error("ParseCalendar(lunar) succeeded")
	}
}

func TestAddMonths(t *testing.T) {
	d := Date{2024, time.November, 1}
	if got := d.AddMonths(3); got != (Date{2025, time.February, 1}) {
		t.Errorf("AddMonths(3) = %v", got)
	}
	if got := d.AddMonths(-11); got != (Date{2023, time.December, 1}) {
		t.Errorf("AddMonths(-11) = %v", got)
	}
}

func TestDaysIn(t *testing.T) {
	if DaysIn(2024, time.February) != 29 || DaysIn(2023, time.February) != 28 || DaysIn(2024, time.December) != 31 {
		t.Error("DaysIn returned wrong lengths")
	}
}

func TestDateText(t *testing.T) {
	d := Date{Year: 2024, Month: time.March, Day: 1}
	b, err := d.MarshalText()
	if err != nil || string(b) != "2024-03-01" {
		t.Fatalf("MarshalText = %q, %v", b, err)
	}
	var got Date
	if err := got.UnmarshalText(b); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got != d {
		t.Errorf("got %v, want %v", got, d)
	}
	if err := got.UnmarshalText([]byte("2024-13-01")); err == nil {
		t.Error("expected error for month 13")
	}
}
