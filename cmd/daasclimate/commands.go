package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/daasclimate/internal/api"
	"github.com/lox/daasclimate/internal/climate"
	"github.com/lox/daasclimate/internal/consult"
	"github.com/lox/daasclimate/internal/dataset"
	"github.com/lox/daasclimate/internal/mirror"
)

type ServeCmd struct {
	Sync bool `help:"Sync the dataset mirror periodically and reload the datasets on change."`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	if c.Sync && g.Config.Mirror.Addr == "" {
		return errors.New("--sync needs mirror.addr in the config")
	}
	a, err := newApp(ctx, g, false)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := g.Config
	server := api.NewServer(a.service, a.catalogs, a.store, api.Options{
		Addr:            cfg.HTTPAddr,
		AllowedOrigins:  cfg.AllowedOrigins,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, g.Logger)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return server.Run(ctx) })

	if c.Sync {
		syncer := mirror.NewSyncer(cfg, mirror.FTPDialer(cfg.Mirror), g.Logger)
		reload := func(ctx context.Context) error {
			return a.catalogs.Reload(ctx, cfg, g.Logger)
		}
		sched := mirror.NewScheduler(syncer, reload, cfg.Mirror.Interval, nil, g.Logger)
		eg.Go(func() error {
			sched.Run(ctx)
			return nil
		})
	} else {
		g.Logger.Info("mirror sync disabled (--sync not set)")
	}

	// Keep the lookup cache from growing without bound.
	eg.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			n, err := a.store.CleanupLookups(ctx, 365*24*time.Hour)
			if err != nil {
				g.Logger.Warn("lookup cache cleanup failed", "error", err)
			} else if n > 0 {
				g.Logger.Info("lookup cache cleaned", "deleted", n)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	return eg.Wait()
}

type ConsultCmd struct {
	Activity string   `required:"" help:"What you plan to do with the land."`
	Location string   `help:"Place name to geocode."`
	Lat      *float64 `help:"Latitude; with --lon skips geocoding."`
	Lon      *float64 `help:"Longitude; with --lat skips geocoding."`
}

func (c *ConsultCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(ctx, g, true)
	if err != nil {
		return err
	}
	defer a.Close()

	req := consult.Request{Activity: c.Activity, Location: c.Location, Lat: c.Lat, Lon: c.Lon}
	if req.Location == "" && c.Lat != nil && c.Lon != nil {
		req.Location = fmt.Sprintf("%g, %g", *c.Lat, *c.Lon)
	}
	_, err = a.service.Run(ctx, req, func(e consult.Event) error {
		switch e.Type {
		case consult.EventLocation:
			fmt.Fprintf(os.Stderr, "Location: %s (%g, %g)\n", e.Location.Formatted, e.Location.Lat, e.Location.Lon)
		case consult.EventContext:
			fmt.Fprintf(os.Stderr, "Soil: %s\nSeason: %s, anomaly %.1f mm\n%s\n\n",
				e.Context.Soil, e.Context.Season.Window.Name, e.Context.Season.ValueMm, e.Context.HazardSummary)
		case consult.EventToken:
			_, err := os.Stdout.WriteString(e.Token)
			return err
		}
		return nil
	})
	fmt.Println()
	return err
}

type InspectCmd struct {
	Lat  float64 `required:"" help:"Latitude."`
	Lon  float64 `required:"" help:"Longitude."`
	JSON bool    `name:"json" help:"Print JSON instead of tables."`
}

func (c *InspectCmd) Run(ctx context.Context, g *Globals) error {
	cat, err := dataset.Load(ctx, g.Config, g.Logger)
	if err != nil {
		return err
	}
	svc := consult.NewService(consult.Deps{Catalogs: dataset.NewHolder(cat), Logger: g.Logger}, consult.Options{
		Seasons: g.Config.Seasons,
		Region:  g.Config.Region,
	})
	cordex, err := svc.Climate(c.Lat, c.Lon)
	if err != nil {
		return err
	}
	seasonal, err := svc.Seasonal(c.Lat, c.Lon)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Climate  *climate.Cordex       `json:"climate"`
			Seasonal *consult.SeasonalView `json:"seasonal"`
		}{cordex, seasonal})
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Month\tTemp now °C\tTemp future °C\tPrecip now mm\tPrecip future mm\t")
	for i, t := range cordex.Temperature {
		p := cordex.Precipitation[i]
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.1f\t%.1f\t\n", t.Month.String()[:3], t.Present, t.Future, p.Present, p.Future)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Println()
	keys := make([]string, 0, len(cordex.Cells))
	for k := range cordex.Cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cell := cordex.Cells[k]
		fmt.Printf("%-18s cell (%.3f, %.3f) %.1f km away\n", k, cell.Lat, cell.Lon, cell.DistanceKm)
	}

	fmt.Printf("\nSeasonal precipitation anomaly at (%.3f, %.3f):\n", seasonal.Cell.Lat, seasonal.Cell.Lon)
	for i, w := range seasonal.Windows {
		v := "nan"
		if p := seasonal.Values[i]; p != nil {
			v = fmt.Sprintf("%.1f mm", *p)
		}
		marker := ""
		if seasonal.Current != nil && seasonal.Current.Window.Name == w.Name {
			marker = "  <- current"
		}
		fmt.Printf("  %-18s %s%s\n", w.Name, v, marker)
	}
	if seasonal.Note != "" {
		fmt.Println(seasonal.Note)
	}
	return nil
}

type SyncCmd struct{}

func (c *SyncCmd) Run(ctx context.Context, g *Globals) error {
	if g.Config.Mirror.Addr == "" {
		return errors.New("mirror.addr is not configured")
	}
	syncer := mirror.NewSyncer(g.Config, mirror.FTPDialer(g.Config.Mirror), g.Logger)
	res, err := syncer.Sync(ctx)
	if err != nil {
		return err
	}
	for _, f := range res.Downloaded {
		fmt.Println("downloaded", f)
	}
	for _, f := range res.Extracted {
		fmt.Println("extracted", f)
	}
	fmt.Printf("%d unchanged\n", res.Unchanged)
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	st, err := openStore(g.Config, g.Logger)
	if err != nil {
		return err
	}
	defer st.Close()
	v, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	fmt.Printf("database %s at schema version %d\n", g.Config.DBPath, v)
	return nil
}

type ImportEventsCmd struct {
	Table string `default:"hazard_events" help:"Destination table."`
	File  string `required:"" type:"existingfile" help:"CSV with event_date, event_type, latitude and longitude columns."`
}

func (c *ImportEventsCmd) Run(ctx context.Context, g *Globals) error {
	st, err := openStore(g.Config, g.Logger)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := st.EnsureEventTable(ctx, c.Table); err != nil {
		return err
	}
	n, err := st.ImportEventsCSV(ctx, c.Table, f)
	if err != nil {
		return fmt.Errorf("import %s: %w", c.File, err)
	}
	g.Logger.Info("hazard events imported", "table", c.Table, "rows", n, "file", c.File)
	return nil
}

type StatsCmd struct {
	Runs int `default:"10" help:"Number of recent consultations to list."`
}

func (c *StatsCmd) Run(ctx context.Context, g *Globals) error {
	st, err := openStore(g.Config, g.Logger)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.GetLookupStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("lookup cache: %d entries, %d bytes compressed\n", stats.TotalCount, stats.TotalSizeBytes)
	providers := make([]string, 0, len(stats.CountByProvider))
	for p := range stats.CountByProvider {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		fmt.Printf("  %-10s %5d entries %6d hits\n", p, stats.CountByProvider[p], stats.HitsByProvider[p])
	}

	runs, err := st.RecentRuns(ctx, c.Runs)
	if err != nil {
		return err
	}
	fmt.Printf("\nrecent consultations:\n")
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "started\tstatus\ttokens\tlocation\tactivity")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Format(time.DateTime), r.Status, r.Tokens, r.Location, truncate(r.Activity, 40))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
