package climate

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lox/daasclimate/internal/grid"
)

// ErrNoSeasonMatch is returned when none of the location's seasons covers
// the current month.
var ErrNoSeasonMatch = errors.New("climate: no season window contains the current month")

// Dimension names of the seasonal forecast and hindcast datasets.
const (
	MemberDim = "number"
	StartDim  = "time"
	LeadDim   = "forecastMonth"
)

const rollingWindow = 3

// Seasonal is an ensemble forecast, its hindcast and the forecast start date.
type Seasonal struct {
	Forecast *grid.Field // (number, [time,] forecastMonth, lat, lon), m/s
	Hindcast *grid.Field // (number, time, forecastMonth, lat, lon), m/s
	Start    grid.Date
}

// Window is one trailing three-month lead window.
type Window struct {
	Name  string    `json:"name"` // "Mar Apr May 2024"
	Lead  int       `json:"lead"` // lead month of the last month in the window
	Valid grid.Date `json:"valid"`
	Days  int       `json:"days"`
}

// Season returns the month part of the name, e.g. "Mar Apr May".
func (w Window) Season() string {
	if len(w.Name) < 11 {
		return w.Name
	}
	return w.Name[:11]
}

// Months returns the month abbreviations in the window.
func (w Window) Months() []string {
	return strings.Fields(w.Season())
}

// Anomalies is the ensemble mean precipitation anomaly in mm per window,
// as a (window, latitude, longitude) field.
type Anomalies struct {
	Windows []Window
	Field   *grid.Field
}

// seasonalGrid resolves the axes of a seasonal field. start is -1 when the
// field has no start-date dimension.
type seasonalGrid struct {
	member, start, lead int
	nMember, nStart     int
	nLead, ny, nx       int
}

func resolve(f *grid.Field) (seasonalGrid, error) {
	g := seasonalGrid{
		member: f.DimIndex(MemberDim),
		start:  f.DimIndex(StartDim),
		lead:   f.DimIndex(LeadDim),
	}
	nd := len(f.Dims)
	if g.lead < 0 || nd < 3 || g.lead >= nd-2 {
		return g, fmt.Errorf("%s: no %s dimension before the spatial axes in %v", f.Name, LeadDim, f.Dims)
	}
	if !f.Spatial() {
		return g, fmt.Errorf("%s: %w", f.Name, grid.ErrNoCells)
	}
	g.nMember, g.nStart = 1, 1
	if g.member >= 0 {
		g.nMember = f.Shape[g.member]
	}
	if g.start >= 0 {
		g.nStart = f.Shape[g.start]
	}
	g.nLead, g.ny, g.nx = f.Shape[g.lead], f.Shape[nd-2], f.Shape[nd-1]
	if g.nMember*g.nStart*g.nLead*g.ny*g.nx != len(f.Data) {
		return g, fmt.Errorf("%s: unexpected extra dimensions in %v", f.Name, f.Dims)
	}
	return g, nil
}

func (g seasonalGrid) at(f *grid.Field, m, s, l, y, x int) float64 {
	idx := make([]int, len(f.Dims))
	if g.member >= 0 {
		idx[g.member] = m
	}
	if g.start >= 0 {
		idx[g.start] = s
	}
	idx[g.lead] = l
	idx[len(idx)-2], idx[len(idx)-1] = y, x
	return f.At(idx...)
}

// rolling returns the trailing three-month mean ending at lead l; any
// missing month makes the window missing.
func (g seasonalGrid) rolling(f *grid.Field, m, s, l, y, x int) float64 {
	sum := 0.0
	for k := l - rollingWindow + 1; k <= l; k++ {
		sum += g.at(f, m, s, k, y, x)
	}
	return sum / rollingWindow
}

// SeasonalAnomalies computes the three-month rolling precipitation anomaly
// of the forecast against the hindcast climatology, converts it to mm and
// restricts it to box. Only windows with three lead months are kept. When
// the forecast has several start dates the first is used.
func SeasonalAnomalies(s Seasonal, box grid.Box) (*Anomalies, error) {
	if s.Forecast == nil || s.Hindcast == nil {
		return nil, fmt.Errorf("seasonal anomalies: %w", grid.ErrNoVariable)
	}
	fg, err := resolve(s.Forecast)
	if err != nil {
		return nil, err
	}
	hg, err := resolve(s.Hindcast)
	if err != nil {
		return nil, err
	}
	if fg.nLead != hg.nLead || fg.ny != hg.ny || fg.nx != hg.nx {
		return nil, fmt.Errorf("seasonal anomalies: forecast %v and hindcast %v grids differ", s.Forecast.Shape, s.Hindcast.Shape)
	}
	if fg.nLead < rollingWindow {
		return nil, fmt.Errorf("seasonal anomalies: %d lead months, need %d", fg.nLead, rollingWindow)
	}

	leads := s.Forecast.Coord(LeadDim)
	windows := make([]Window, 0, fg.nLead-rollingWindow+1)
	data := make([]float64, 0, cap(windows)*fg.ny*fg.nx)
	for l := rollingWindow - 1; l < fg.nLead; l++ {
		lead := l + 1
		if l < len(leads) {
			lead = int(leads[l])
		}
		w := newWindow(s.Start, lead)
		scale := float64(w.Days) * secondsPerDay * 1000
		windows = append(windows, w)

		for y := 0; y < fg.ny; y++ {
			for x := 0; x < fg.nx; x++ {
				clim := make([]float64, 0, hg.nMember*hg.nStart)
				for m := 0; m < hg.nMember; m++ {
					for st := 0; st < hg.nStart; st++ {
						clim = append(clim, hg.rolling(s.Hindcast, m, st, l, y, x))
					}
				}
				c := nanMean(clim)

				anom := make([]float64, 0, fg.nMember)
				for m := 0; m < fg.nMember; m++ {
					anom = append(anom, fg.rolling(s.Forecast, m, 0, l, y, x)-c)
				}
				data = append(data, nanMean(anom)*scale)
			}
		}
	}

	ydim, xdim := s.Forecast.YAxis().Name, s.Forecast.XAxis().Name
	field, err := grid.NewField("anomaly_mm", []string{"window", ydim, xdim}, []int{len(windows), fg.ny, fg.nx}, data)
	if err != nil {
		return nil, err
	}
	field.Units = "mm"
	field.SetCoord(ydim, s.Forecast.Coord(ydim))
	field.SetCoord(xdim, s.Forecast.Coord(xdim))

	field, err = field.Subset(box)
	if err != nil {
		return nil, fmt.Errorf("seasonal anomalies: box %+v: %w", box, err)
	}
	return &Anomalies{Windows: windows, Field: field}, nil
}

// newWindow builds the window whose last month is start + lead - 1.
func newWindow(start grid.Date, lead int) Window {
	valid := start.AddMonths(lead - 1)
	months := make([]string, 0, rollingWindow)
	days := 0
	for k := rollingWindow - 1; k >= 0; k-- {
		d := valid.AddMonths(-k)
		months = append(months, d.Month.String()[:3])
		days += grid.DaysIn(d.Year, d.Month)
	}
	return Window{
		Name:  fmt.Sprintf("%s %04d", strings.Join(months, " "), valid.Year),
		Lead:  lead,
		Valid: valid,
		Days:  days,
	}
}

// SeasonAnomaly is the anomaly of the current season at one location.
type SeasonAnomaly struct {
	Window  Window    `json:"window"`
	ValueMm float64   `json:"value_mm"`
	Cell    grid.Cell `json:"cell"`
}

// Series returns every window value at the cell nearest the location.
func (a *Anomalies) Series(lat, lon float64) ([]float64, grid.Cell, error) {
	cell, err := a.Field.NearestCell(lat, lon)
	if err != nil {
		return nil, cell, err
	}
	vals := make([]float64, len(a.Windows))
	for i := range a.Windows {
		vals[i] = a.Field.At(i, cell.Y, cell.X)
	}
	return vals, cell, nil
}

// CurrentSeasonAnomaly picks the anomaly of the location's season that
// contains now's month. Only windows named after one of seasons are
// considered; if several contain the month, the last in lead order wins.
func CurrentSeasonAnomaly(a *Anomalies, lat, lon float64, seasons []string, now time.Time) (SeasonAnomaly, error) {
	vals, cell, err := a.Series(lat, lon)
	if err != nil {
		return SeasonAnomaly{}, err
	}
	allowed := make(map[string]bool, len(seasons))
	for _, s := range seasons {
		allowed[s] = true
	}
	month := now.Month().String()[:3]

	found := -1
	for i, w := range a.Windows {
		if !allowed[w.Season()] {
			continue
		}
		for _, m := range w.Months() {
			if m == month {
				found = i
			}
		}
	}
	if found < 0 {
		return SeasonAnomaly{}, fmt.Errorf("%w: %s not in %v", ErrNoSeasonMatch, month, seasons)
	}
	return SeasonAnomaly{Window: a.Windows[found], ValueMm: vals[found], Cell: cell}, nil
}

func nanMean(vals []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
