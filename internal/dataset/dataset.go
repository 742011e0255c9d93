// Package dataset loads the climate datasets a consultation reads from and
// keeps the current set available to concurrent requests.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/daasclimate/internal/climate"
	"github.com/lox/daasclimate/internal/config"
	"github.com/lox/daasclimate/internal/grid"
	"github.com/lox/daasclimate/internal/metrics"
)

var ErrNoFiles = errors.New("dataset: no files match pattern")

// Catalog is one loaded set of datasets. It is never modified after Load
// returns and may be shared by any number of readers.
type Catalog struct {
	Historical climate.Period
	Projection climate.Period
	Seasonal   climate.Seasonal

	Files    map[string][]string
	Flags    []Flag
	LoadedAt time.Time
}

// Load opens every dataset named by the configured patterns.
func Load(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Catalog, error) {
	start := time.Now()
	cat := &Catalog{Files: make(map[string][]string)}

	groups := map[string]string{
		"historical": cfg.Files.Historical,
		"projection": cfg.Files.Projection,
		"forecast":   cfg.Files.Forecast,
		"hindcast":   cfg.Files.Hindcast,
	}
	for name, pattern := range groups {
		paths, err := filepath.Glob(cfg.Path(pattern))
		if err != nil {
			return nil, fmt.Errorf("%s pattern %q: %w", name, pattern, err)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("%s: %q in %s: %w", name, pattern, cfg.DataDir, ErrNoFiles)
		}
		sort.Strings(paths)
		cat.Files[name] = paths
	}

	var (
		mu    sync.Mutex
		flags []Flag
	)
	read := func(group, variable string, dst **grid.Field) func() error {
		return func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			paths, err := withVariable(cat.Files[group], variable)
			if err != nil {
				return fmt.Errorf("%s: %w", group, err)
			}
			f, err := grid.ReadFiles(paths, variable)
			if err != nil {
				return fmt.Errorf("%s: %w", group, err)
			}
			fl := ValidateField(group, f)
			mu.Lock()
			flags = append(flags, fl...)
			mu.Unlock()
			*dst = f
			logger.Debug("dataset loaded", "group", group, "variable", variable, "files", len(paths), "shape", f.Shape)
			return nil
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(read("historical", "tas", &cat.Historical.Tas))
	g.Go(read("historical", "pr", &cat.Historical.Pr))
	g.Go(read("projection", "tas", &cat.Projection.Tas))
	g.Go(read("projection", "pr", &cat.Projection.Pr))
	g.Go(read("forecast", "tprate", &cat.Seasonal.Forecast))
	g.Go(read("hindcast", "tprate", &cat.Seasonal.Hindcast))
	if err := g.Wait(); err != nil {
		return nil, err
	}

	startDate, err := forecastStart(cat.Seasonal.Forecast, cat.Files["forecast"][0])
	if err != nil {
		return nil, err
	}
	cat.Seasonal.Start = startDate

	sort.Slice(flags, func(i, j int) bool {
		if flags[i].Dataset != flags[j].Dataset {
			return flags[i].Dataset < flags[j].Dataset
		}
		return flags[i].Variable < flags[j].Variable
	})
	for _, fl := range flags {
		logger.Warn("dataset quality flag", "dataset", fl.Dataset, "variable", fl.Variable, "flag", fl.Flag, "count", fl.Count)
		metrics.DatasetFlags.WithLabelValues(fl.Variable, fl.Flag).Add(float64(fl.Count))
	}
	cat.Flags = flags
	cat.LoadedAt = time.Now()

	elapsed := time.Since(start)
	metrics.DatasetLoadSeconds.Set(elapsed.Seconds())
	logger.Info("datasets loaded", "duration", elapsed.Round(time.Millisecond), "forecast_start", startDate.String())
	return cat, nil
}

// withVariable keeps the paths whose file defines variable. Experiments are
// often split into one file per variable.
func withVariable(paths []string, variable string) ([]string, error) {
	var out []string
	for _, p := range paths {
		f, err := grid.Open(p)
		if err != nil {
			return nil, err
		}
		if f.Has(variable) {
			out = append(out, p)
		}
		f.Close()
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%q: %w", variable, grid.ErrNoVariable)
	}
	return out, nil
}

// forecastStart finds the forecast initialisation date from its time
// dimension, or from a scalar time or forecast_reference_time variable.
func forecastStart(forecast *grid.Field, path string) (grid.Date, error) {
	if dates := forecast.Dates(climate.StartDim); len(dates) > 0 {
		return firstOfMonth(dates[0]), nil
	}
	f, err := grid.Open(path)
	if err != nil {
		return grid.Date{}, err
	}
	defer f.Close()
	for _, name := range []string{"time", "forecast_reference_time"} {
		if !f.Has(name) {
			continue
		}
		dates, err := f.Times(name)
		if err != nil {
			return grid.Date{}, err
		}
		if len(dates) > 0 {
			return firstOfMonth(dates[0]), nil
		}
	}
	return grid.Date{}, fmt.Errorf("forecast %s: no start date", path)
}

func firstOfMonth(d grid.Date) grid.Date {
	return grid.Date{Year: d.Year, Month: d.Month, Day: 1}
}

// Holder gives concurrent readers the current catalog and lets a sync
// replace it atomically.
type Holder struct {
	cur atomic.Pointer[Catalog]
}

func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	h.cur.Store(c)
	return h
}

// Get returns the current catalog, or nil before the first load.
func (h *Holder) Get() *Catalog {
	return h.cur.Load()
}

func (h *Holder) Set(c *Catalog) {
	h.cur.Store(c)
}

// Reload loads a new catalog and swaps it in. The old catalog keeps
// serving if loading fails.
func (h *Holder) Reload(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	c, err := Load(ctx, cfg, logger)
	if err != nil {
		return err
	}
	h.Set(c)
	return nil
}
