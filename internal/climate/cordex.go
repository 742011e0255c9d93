// Package climate turns gridded climate datasets into the per-location
// numbers a consultation needs: monthly present/future tables and the
// seasonal precipitation anomaly.
package climate

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lox/daasclimate/internal/grid"
)

const (
	kelvinOffset  = 273.15
	secondsPerDay = 86400
)

// monthDays is the non-leap month length used to turn a mean precipitation
// flux into a monthly total.
var monthDays = [12]float64{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// Period holds the temperature and precipitation fields of one experiment.
type Period struct {
	Tas *grid.Field // near-surface air temperature, K
	Pr  *grid.Field // precipitation flux, kg m-2 s-1
}

// MonthRow pairs present and future values for one calendar month.
type MonthRow struct {
	Month   time.Month `json:"month"`
	Present float64    `json:"present"`
	Future  float64    `json:"future"`
}

// Cordex is the monthly climate summary for one location.
type Cordex struct {
	Temperature   []MonthRow `json:"temperature"`
	Precipitation []MonthRow `json:"precipitation"`

	PresentTemp   string `json:"present_temp"`
	FutureTemp    string `json:"future_temp"`
	PresentPrecip string `json:"present_precip"`
	FuturePrecip  string `json:"future_precip"`

	// Cells records the grid cell used for each series, keyed like
	// "historical/tas".
	Cells map[string]grid.Cell `json:"cells"`
}

// MaxDistanceKm returns the largest query-to-cell distance among the cells
// used.
func (c *Cordex) MaxDistanceKm() float64 {
	max := 0.0
	for _, cell := range c.Cells {
		max = math.Max(max, cell.DistanceKm)
	}
	return max
}

// ExtractCordex selects the nearest cell independently in each dataset and
// aggregates it by calendar month over all years.
func ExtractCordex(lat, lon float64, hist, future Period) (*Cordex, error) {
	out := &Cordex{Cells: make(map[string]grid.Cell)}

	series := []struct {
		key   string
		field *grid.Field
		conv  func([12]float64) [12]float64
		dst   *[12]float64
	}{
		{"historical/tas", hist.Tas, toCelsius, new([12]float64)},
		{"historical/pr", hist.Pr, toMillimetres, new([12]float64)},
		{"projection/tas", future.Tas, toCelsius, new([12]float64)},
		{"projection/pr", future.Pr, toMillimetres, new([12]float64)},
	}
	for _, s := range series {
		if s.field == nil {
			return nil, fmt.Errorf("extract %s: %w", s.key, grid.ErrNoVariable)
		}
		cell, err := s.field.NearestCell(lat, lon)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", s.key, err)
		}
		means, err := MonthlyMeans(s.field, cell)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", s.key, err)
		}
		*s.dst = s.conv(means)
		out.Cells[s.key] = cell
	}

	histTas, histPr, futTas, futPr := *series[0].dst, *series[1].dst, *series[2].dst, *series[3].dst
	for m := 0; m < 12; m++ {
		month := time.Month(m + 1)
		out.Temperature = append(out.Temperature, MonthRow{Month: month, Present: histTas[m], Future: futTas[m]})
		out.Precipitation = append(out.Precipitation, MonthRow{Month: month, Present: histPr[m], Future: futPr[m]})
	}
	out.PresentTemp = FormatSeries(histTas[:])
	out.FutureTemp = FormatSeries(futTas[:])
	out.PresentPrecip = FormatSeries(histPr[:])
	out.FuturePrecip = FormatSeries(futPr[:])
	return out, nil
}

// MonthlyMeans averages a (time, y, x) field at cell by calendar month.
// Missing values are skipped; a month without data is NaN.
func MonthlyMeans(f *grid.Field, cell grid.Cell) ([12]float64, error) {
	var out [12]float64
	tdim := f.TimeDim()
	if tdim == "" || f.DimIndex(tdim) != 0 || len(f.Dims) != 3 {
		return out, fmt.Errorf("%s: want (time, y, x) dimensions, have %v", f.Name, f.Dims)
	}
	dates := f.Dates(tdim)

	var sums, counts [12]float64
	for t, d := range dates {
		v := f.At(t, cell.Y, cell.X)
		if math.IsNaN(v) || d.Month < time.January || d.Month > time.December {
			continue
		}
		sums[d.Month-1] += v
		counts[d.Month-1]++
	}
	for m := range out {
		if counts[m] == 0 {
			out[m] = math.NaN()
			continue
		}
		out[m] = sums[m] / counts[m]
	}
	return out, nil
}

func toCelsius(k [12]float64) [12]float64 {
	for i := range k {
		k[i] -= kelvinOffset
	}
	return k
}

func toMillimetres(flux [12]float64) [12]float64 {
	for i := range flux {
		flux[i] *= monthDays[i] * secondsPerDay
	}
	return flux
}

// FormatSeries renders values with three decimals separated by spaces.
func FormatSeries(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) {
			parts[i] = "nan"
			continue
		}
		parts[i] = fmt.Sprintf("%.3f", v)
	}
	return strings.Join(parts, " ")
}
