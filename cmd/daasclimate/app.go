package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lox/daasclimate/internal/config"
	"github.com/lox/daasclimate/internal/consult"
	"github.com/lox/daasclimate/internal/dataset"
	"github.com/lox/daasclimate/internal/geocode"
	"github.com/lox/daasclimate/internal/hazard"
	"github.com/lox/daasclimate/internal/llm"
	"github.com/lox/daasclimate/internal/soil"
	"github.com/lox/daasclimate/internal/store"
	"github.com/lox/daasclimate/internal/tracing"
)

// app holds the long-lived collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	catalogs *dataset.Holder
	service  *consult.Service

	closers []func(context.Context) error
}

func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// newApp wires the consultation service. A catalog that fails to load is
// fatal when requireCatalog is set; otherwise the service starts without
// one and a later sync can fill it in.
func newApp(ctx context.Context, g *Globals, requireCatalog bool) (*app, error) {
	cfg, logger := g.Config, g.Logger
	a := &app{cfg: cfg, logger: logger}

	shutdownTracing, err := tracing.Setup(ctx, cfg.OtelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	st, err := openStore(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })

	cat, err := dataset.Load(ctx, cfg, logger)
	if err != nil {
		if requireCatalog {
			a.Close()
			return nil, fmt.Errorf("load datasets: %w", err)
		}
		logger.Error("datasets not loaded, serving without climate data", "error", err)
		cat = nil
	}
	a.catalogs = dataset.NewHolder(cat)

	finder, err := a.hazardFinder(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	geo := geocode.NewCachedGeocoder(geocode.NewClient(cfg.Geocode, logger), cfg.Geocode.CacheSize, st, logger)
	deps := consult.Deps{
		Geocoder: geo,
		Soil:     soil.NewClient(cfg.Soil, st, logger),
		LLM:      llm.NewClient(cfg.LLM, logger),
		Catalogs: a.catalogs,
		Runs:     st,
		Logger:   logger,
	}
	if finder != nil {
		deps.Hazards = finder
	}
	a.service = consult.NewService(deps, consult.Options{
		SystemRole: cfg.SystemRole,
		Seasons:    cfg.Seasons,
		Region:     cfg.Region,
		HazardKm:   cfg.DistanceFromEvent,
	})
	return a, nil
}

// hazardFinder queries the external event database when db_engine_url
// names a Postgres server, and the local SQLite tables otherwise.
func (a *app) hazardFinder(ctx context.Context) (*hazard.Finder, error) {
	if len(a.cfg.TableNames) == 0 {
		return nil, nil
	}
	var (
		db       *sql.DB
		postgres bool
	)
	if hazard.IsPostgres(a.cfg.DBEngineURL) {
		pg, err := hazard.OpenPostgres(ctx, a.cfg.DBEngineURL)
		if err != nil {
			a.logger.Error("hazard database unavailable, continuing without hazard records", "error", err)
			return nil, nil
		}
		a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
		db, postgres = pg, true
	} else {
		for _, table := range a.cfg.TableNames {
			if err := a.store.EnsureEventTable(ctx, table); err != nil {
				return nil, fmt.Errorf("hazard table %s: %w", table, err)
			}
		}
		db = a.store.DB()
	}
	return hazard.NewFinder(db, postgres, a.cfg.TableNames, a.cfg.MaxEvents, a.logger)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
