package climate

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/lox/daasclimate/internal/grid"
	"github.com/lox/daasclimate/internal/grid/gridtest"
)

// monthlyField builds a (time, lat, lon) field of years*12 monthly steps on
// a 2x2 grid. Cell (0, 0) gets value(year, month); other cells get -1.
func monthlyField(t *testing.T, name string, years int, value func(year int, m time.Month) float64) *grid.Field {
	t.Helper()
	steps := years * 12
	data := make([]float64, 0, steps*4)
	dates := make([]grid.Date, 0, steps)
	for y := 0; y < years; y++ {
		for m := time.January; m <= time.December; m++ {
			data = append(data, value(y, m), -1, -1, -1)
			dates = append(dates, grid.Date{Year: 1971 + y, Month: m, Day: 16})
		}
	}
	f, err := grid.NewField(name, []string{"time", "lat", "lon"}, []int{steps, 2, 2}, data)
	if err != nil {
		t.Fatal(err)
	}
	f.SetCoord("lat", []float64{-1, 1})
	f.SetCoord("lon", []float64{36, 38})
	f.SetDates("time", dates)
	return f
}

func TestExtractCordex(t *testing.T) {
	histTas := monthlyField(t, "tas", 3, func(y int, m time.Month) float64 { return 290 + float64(m) + float64(y) })
	histPr := monthlyField(t, "pr", 3, func(y int, m time.Month) float64 { return 1e-5 * float64(m) })
	futTas := monthlyField(t, "tas", 2, func(y int, m time.Month) float64 { return 293 + float64(m) })
	futPr := monthlyField(t, "pr", 2, func(y int, m time.Month) float64 { return 2e-5 })

	got, err := ExtractCordex(-1.2, 36.4, Period{Tas: histTas, Pr: histPr}, Period{Tas: futTas, Pr: futPr})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Temperature) != 12 || len(got.Precipitation) != 12 {
		t.Fatalf("rows = %d/%d, want 12", len(got.Temperature), len(got.Precipitation))
	}
	for i, row := range got.Temperature {
		m := time.Month(i + 1)
		if row.Month != m {
			t.Errorf("row %d month = %v", i, row.Month)
		}
		// mean over years 0, 1, 2 is 290 + m + 1
		if want := (290 + float64(m) + 1) - 273.15; math.Abs(row.Present-want) > 1e-9 {
			t.Errorf("%v present temp = %v, want %v", m, row.Present, want)
		}
		if want := (293 + float64(m)) - 273.15; math.Abs(row.Future-want) > 1e-9 {
			t.Errorf("%v future temp = %v, want %v", m, row.Future, want)
		}
	}
	days := []float64{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	for i, row := range got.Precipitation {
		if want := 1e-5 * float64(i+1) * 86400 * days[i]; math.Abs(row.Present-want) > 1e-9 {
			t.Errorf("month %d present precip = %v, want %v", i+1, row.Present, want)
		}
		if want := 2e-5 * 86400 * days[i]; math.Abs(row.Future-want) > 1e-9 {
			t.Errorf("month %d future precip = %v, want %v", i+1, row.Future, want)
		}
	}
	if got.FuturePrecip[:6] != "53.568" {
		t.Errorf("future precip string = %q", got.FuturePrecip)
	}
	if cell := got.Cells["historical/tas"]; cell.Y != 0 || cell.X != 0 {
		t.Errorf("cell = %+v", cell)
	}
}

func TestKelvinToCelsiusIsExact(t *testing.T) {
	for _, k := range []float64{0, 150.5, 273.15, 300.123456, 350} {
		var in [12]float64
		for i := range in {
			in[i] = k
		}
		out := toCelsius(in)
		if out[0] != k-273.15 {
			t.Errorf("toCelsius(%v) = %v, want %v", k, out[0], k-273.15)
		}
	}
}

func TestMonthlyMeansSkipsMissing(t *testing.T) {
	f := monthlyField(t, "tas", 2, func(y int, m time.Month) float64 {
		if y == 0 && m == time.March {
			return math.NaN()
		}
		if m == time.July {
			return math.NaN()
		}
		return float64(y)
	})
	means, err := MonthlyMeans(f, grid.Cell{})
	if err != nil {
		t.Fatal(err)
	}
	if means[time.March-1] != 1 {
		t.Errorf("March = %v, want 1", means[time.March-1])
	}
	if !math.IsNaN(means[time.July-1]) {
		t.Errorf("July = %v, want NaN", means[time.July-1])
	}
	if means[time.January-1] != 0.5 {
		t.Errorf("January = %v, want 0.5", means[time.January-1])
	}
}

func TestMonthlyMeansRejectsNonTimeSeries(t *testing.T) {
	f, _ := grid.NewField("tas", []string{"lat", "lon"}, []int{1, 1}, []float64{1})
	if _, err := MonthlyMeans(f, grid.Cell{}); err == nil {
		t.Error("expected error for field without time")
	}
}

func TestFormatSeries(t *testing.T) {
	got := FormatSeries([]float64{1, 2.34567, -0.0004, math.NaN()})
	if want := "1.000 2.346 -0.000 nan"; got != want {
		t.Errorf("FormatSeries = %q, want %q", got, want)
	}
}

// Reads real NetCDF files on a rotated grid, split across two files, and
// compares the monthly table against values computed by hand.
func TestExtractCordexFromFiles(t *testing.T) {
	dir := t.TempDir()

	write := func(name, variable string, startYear int, years int, value func(m int) float64) string {
		steps := years * 12
		times := make([]float64, steps)
		data := make([]float64, 0, steps*4)
		for i := 0; i < steps; i++ {
			// 360_day calendar, mid month
			times[i] = float64((startYear-1949)*360+i*30) + 15 - 330
			data = append(data, value(i%12+1), value(i%12+1), value(i%12+1), value(i%12+1))
		}
		return gridtest.Write(t, dir, name, gridtest.Spec{
			Dims:    []string{"time", "rlat", "rlon"},
			Lengths: []int{0, 2, 2},
			Vars: []gridtest.Var{
				{Name: "rlat", Dims: []string{"rlat"}, Data: []float64{-0.44, 0}},
				{Name: "rlon", Dims: []string{"rlon"}, Data: []float64{0, 0.44}},
				{Name: "time", Dims: []string{"time"}, Data: times, Double: true, Attrs: map[string]interface{}{
					"units":    "days since 1949-12-01 00:00:00",
					"calendar": "360_day",
				}},
				{Name: variable, Dims: []string{"time", "rlat", "rlon"}, Data: data},
			},
		})
	}

	histTas := []string{
		write("tas_CanESM2_historical_1976.nc", "tas", 1976, 1, func(m int) float64 { return 280 + float64(m) }),
		write("tas_CanESM2_historical_1971.nc", "tas", 1971, 2, func(m int) float64 { return 280 + float64(m) }),
	}
	histPr := []string{write("pr_CanESM2_historical_1971.nc", "pr", 1971, 1, func(m int) float64 { return 3e-5 })}
	futTas := []string{write("tas_CanESM2_rcp45_2071.nc", "tas", 2071, 1, func(m int) float64 { return 284 + float64(m) })}
	futPr := []string{write("pr_CanESM2_rcp45_2071.nc", "pr", 2071, 1, func(m int) float64 { return 4e-5 })}

	read := func(paths []string, v string) *grid.Field {
		f, err := grid.ReadFiles(paths, v)
		if err != nil {
			t.Fatalf("read %s: %v", filepath.Base(paths[0]), err)
		}
		return f
	}
	hist := Period{Tas: read(histTas, "tas"), Pr: read(histPr, "pr")}
	future := Period{Tas: read(futTas, "tas"), Pr: read(futPr, "pr")}

	got, err := ExtractCordex(0.1, 0.3, hist, future)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 12; i++ {
		m := float64(i + 1)
		if want := float64(float32(280+m)) - 273.15; math.Abs(got.Temperature[i].Present-want) > 1e-6 {
			t.Errorf("month %d present = %v, want %v", i+1, got.Temperature[i].Present, want)
		}
		if want := float64(float32(284+m)) - 273.15; math.Abs(got.Temperature[i].Future-want) > 1e-6 {
			t.Errorf("month %d future = %v, want %v", i+1, got.Temperature[i].Future, want)
		}
		if want := float64(float32(3e-5)) * 86400 * monthDays[i]; math.Abs(got.Precipitation[i].Present-want) > 1e-6 {
			t.Errorf("month %d present precip = %v, want %v", i+1, got.Precipitation[i].Present, want)
		}
	}
}
