// Package datasettest writes a small but complete set of climate files
// around Kenya for tests that need a loaded catalog.
package datasettest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lox/daasclimate/internal/grid/gridtest"
)

// Grid coordinates shared by every fixture file.
var (
	Lats = []float64{1, 0, -1}
	Lons = []float64{36, 37, 38}
)

// Fixture values. Temperatures are 290+month K in the historical run and
// 292+month K in the projection; precipitation fluxes are constant.
const (
	HistPr     = 2e-5
	ProjPr     = 3e-5
	Rate       = 1e-8
	Members    = 2
	Leads      = 6
	StartEpoch = 1709251200 // 2024-03-01T00:00:00Z
)

// ForecastStart is the initialisation month of the fixture forecast.
var ForecastStart = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

// Write creates the fixture under dir using the default file patterns.
func Write(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "seasonal"), 0o755); err != nil {
		t.Fatal(err)
	}
	cordex(t, dir, "tas_AFR-44_CanESM2_historical_r1i1p1_mon_197101-197212.nc", "tas", 1971, 2, func(m int) float64 { return 290 + float64(m) })
	cordex(t, dir, "pr_AFR-44_CanESM2_historical_r1i1p1_mon_197101-197212.nc", "pr", 1971, 2, func(int) float64 { return HistPr })
	cordex(t, dir, "tas_AFR-44_CanESM2_rcp45_r1i1p1_mon_207101-207112.nc", "tas", 2071, 1, func(m int) float64 { return 292 + float64(m) })
	cordex(t, dir, "pr_AFR-44_CanESM2_rcp45_r1i1p1_mon_207101-207112.nc", "pr", 2071, 1, func(int) float64 { return ProjPr })
	forecast(t, filepath.Join(dir, "seasonal"))
	hindcast(t, filepath.Join(dir, "seasonal"))
}

func cordex(t testing.TB, dir, name, variable string, startYear, years int, value func(month int) float64) {
	steps := years * 12
	times := make([]float64, steps)
	var data []float64
	for i := 0; i < steps; i++ {
		times[i] = float64((startYear-1949)*360+i*30) + 15 - 330
		for c := 0; c < len(Lats)*len(Lons); c++ {
			data = append(data, value(i%12+1))
		}
	}
	gridtest.Write(t, dir, name, gridtest.Spec{
		Dims:    []string{"time", "rlat", "rlon"},
		Lengths: []int{0, len(Lats), len(Lons)},
		Vars: []gridtest.Var{
			{Name: "rlat", Dims: []string{"rlat"}, Data: Lats},
			{Name: "rlon", Dims: []string{"rlon"}, Data: Lons},
			{Name: "rotated_pole", Attrs: map[string]interface{}{
				"grid_mapping_name":         "rotated_latitude_longitude",
				"grid_north_pole_latitude":  gridtest.Floats(90),
				"grid_north_pole_longitude": gridtest.Floats(-180),
			}},
			{Name: "time", Dims: []string{"time"}, Data: times, Double: true, Attrs: map[string]interface{}{
				"units":    "days since 1949-12-01 00:00:00",
				"calendar": "360_day",
			}},
			{Name: variable, Dims: []string{"time", "rlat", "rlon"}, Data: data, Attrs: map[string]interface{}{
				"grid_mapping": "rotated_pole",
				"_FillValue":   gridtest.Floats(1e20),
			}},
		},
	})
}

func leads() []float64 {
	out := make([]float64, Leads)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func forecast(t testing.TB, dir string) {
	var data []float64
	for m := 0; m < Members; m++ {
		for l := 0; l < Leads; l++ {
			for c := 0; c < len(Lats)*len(Lons); c++ {
				data = append(data, Rate*float64(l+1+m))
			}
		}
	}
	gridtest.Write(t, dir, "ecmwf_seas5_2024_03_forecast_monthly_tp.nc", gridtest.Spec{
		Dims:    []string{"number", "forecastMonth", "latitude", "longitude"},
		Lengths: []int{Members, Leads, len(Lats), len(Lons)},
		Vars: []gridtest.Var{
			{Name: "number", Dims: []string{"number"}, Data: []float64{0, 1}},
			{Name: "forecastMonth", Dims: []string{"forecastMonth"}, Data: leads()},
			{Name: "latitude", Dims: []string{"latitude"}, Data: Lats},
			{Name: "longitude", Dims: []string{"longitude"}, Data: Lons},
			{Name: "time", Data: []float64{StartEpoch}, Double: true, Attrs: map[string]interface{}{
				"units":    "seconds since 1970-01-01 00:00:00",
				"calendar": "proleptic_gregorian",
			}},
			{Name: "tprate", Dims: []string{"number", "forecastMonth", "latitude", "longitude"}, Data: data, Attrs: map[string]interface{}{
				"units": "m s**-1",
			}},
		},
	})
}

func hindcast(t testing.TB, dir string) {
	const years = 2
	var data []float64
	for m := 0; m < Members; m++ {
		for s := 0; s < years; s++ {
			for l := 0; l < Leads; l++ {
				for c := 0; c < len(Lats)*len(Lons); c++ {
					data = append(data, Rate*float64(l+1))
				}
			}
		}
	}
	gridtest.Write(t, dir, "ecmwf_seas5_2022-2023_03_hindcast_monthly_tp.nc", gridtest.Spec{
		Dims:    []string{"number", "time", "forecastMonth", "latitude", "longitude"},
		Lengths: []int{Members, years, Leads, len(Lats), len(Lons)},
		Vars: []gridtest.Var{
			{Name: "number", Dims: []string{"number"}, Data: []float64{0, 1}},
			{Name: "time", Dims: []string{"time"}, Data: []float64{1646092800, 1677628800}, Double: true, Attrs: map[string]interface{}{
				"units": "seconds since 1970-01-01",
			}},
			{Name: "forecastMonth", Dims: []string{"forecastMonth"}, Data: leads()},
			{Name: "latitude", Dims: []string{"latitude"}, Data: Lats},
			{Name: "longitude", Dims: []string{"longitude"}, Data: Lons},
			{Name: "tprate", Dims: []string{"number", "time", "forecastMonth", "latitude", "longitude"}, Data: data},
		},
	})
}
