// Package consult runs a land-use consultation: it gathers soil, climate,
// seasonal and hazard context for a place and streams the model's advice.
package consult

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lox/daasclimate/internal/climate"
	"github.com/lox/daasclimate/internal/dataset"
	"github.com/lox/daasclimate/internal/geocode"
	"github.com/lox/daasclimate/internal/grid"
	"github.com/lox/daasclimate/internal/hazard"
	"github.com/lox/daasclimate/internal/llm"
	"github.com/lox/daasclimate/internal/metrics"
	"github.com/lox/daasclimate/internal/models"
	"github.com/lox/daasclimate/internal/tracing"
)

// SoilUnknown replaces the soil class when the lookup fails.
const SoilUnknown = "Not known"

var ErrNoCatalog = errors.New("consult: climate datasets not loaded")

type SoilClassifier interface {
	Classify(ctx context.Context, lat, lon float64) (string, error)
}

type HazardFinder interface {
	Near(ctx context.Context, lat, lon, km float64) ([]models.HazardEvent, error)
}

// CatalogSource returns the current dataset catalog. *dataset.Holder
// implements it.
type CatalogSource interface {
	Get() *dataset.Catalog
}

// RunRecorder keeps the consultation audit log. *store.Store implements it.
type RunRecorder interface {
	StartRun(ctx context.Context, run *models.ConsultationRun) error
	CompleteRun(ctx context.Context, run *models.ConsultationRun) error
}

// Options are the fixed inputs of every consultation.
type Options struct {
	SystemRole string
	Seasons    []string
	Region     grid.Box
	// HazardKm is the half-width of the hazard search square and the
	// distance beyond which a grid cell is logged as far from the query.
	HazardKm float64
}

// Deps are the collaborators of a Service. Hazards and Runs may be nil.
type Deps struct {
	Geocoder geocode.Geocoder
	Soil     SoilClassifier
	Hazards  HazardFinder
	LLM      llm.Streamer
	Catalogs CatalogSource
	Runs     RunRecorder
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

type Service struct {
	Deps
	opts Options

	mu        sync.Mutex
	anomCat   *dataset.Catalog
	anomalies *climate.Anomalies
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{Deps: deps, opts: opts}
}

// Request is one consultation. Lat and Lon, when both set, override
// geocoding of Location.
type Request struct {
	Activity string   `json:"activity"`
	Location string   `json:"location"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Activity) == "" {
		return errors.New("activity is required")
	}
	if strings.TrimSpace(r.Location) == "" && (r.Lat == nil || r.Lon == nil) {
		return errors.New("location is required")
	}
	if r.Lat != nil && (*r.Lat < -90 || *r.Lat > 90) {
		return fmt.Errorf("latitude %g out of range", *r.Lat)
	}
	if r.Lon != nil && (*r.Lon < -180 || *r.Lon > 360) {
		return fmt.Errorf("longitude %g out of range", *r.Lon)
	}
	return nil
}

// Context is everything known about the place before the model is asked.
type Context struct {
	Location      models.Location       `json:"location"`
	Soil          string                `json:"soil"`
	Climate       *climate.Cordex       `json:"climate"`
	Season        climate.SeasonAnomaly `json:"season"`
	Hazards       []models.HazardEvent  `json:"hazards"`
	HazardSummary string                `json:"hazard_summary"`
}

// Event is a progress message sent while a consultation runs.
type Event struct {
	Type     string           `json:"type"`
	Stage    string           `json:"stage,omitempty"`
	RunID    string           `json:"run_id,omitempty"`
	Location *models.Location `json:"location,omitempty"`
	Context  *Context         `json:"context,omitempty"`
	Token    string           `json:"token,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Event types.
const (
	EventStatus   = "status"
	EventLocation = "location"
	EventContext  = "context"
	EventToken    = "token"
	EventDone     = "done"
	EventError    = "error"
)

// Sink receives events. An error from the sink aborts the consultation.
type Sink func(Event) error

type Result struct {
	RunID    string   `json:"run_id"`
	Context  *Context `json:"context"`
	Prompt   Prompt   `json:"-"`
	Response string   `json:"response"`
}

// Run performs the consultation, forwarding progress and response tokens
// to sink as they happen.
func (s *Service) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	if sink == nil {
		sink = func(Event) error { return nil }
	}
	run := &models.ConsultationRun{
		RunID:     uuid.NewString(),
		StartedAt: s.Clock.Now().UTC(),
		Activity:  req.Activity,
		Location:  req.Location,
	}
	ctx, span := tracing.Tracer().Start(ctx, "consult.run", trace.WithAttributes(
		attribute.String("run_id", run.RunID),
	))
	defer span.End()

	logger := s.Logger.With("run_id", run.RunID)
	if s.Runs != nil {
		if err := s.Runs.StartRun(ctx, run); err != nil {
			logger.Warn("record run start failed", "error", err)
		}
	}

	res, err := s.run(ctx, req, run, logger, sink)

	run.Status = models.RunOK
	if err != nil {
		run.Status = models.RunError
		run.Error = sql.NullString{String: err.Error(), Valid: true}
		span.RecordError(err)
	}
	metrics.ConsultationsTotal.WithLabelValues(run.Status).Inc()
	if s.Runs != nil {
		// The request context may be cancelled already; the audit row is
		// still written.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if cerr := s.Runs.CompleteRun(rctx, run); cerr != nil {
			logger.Warn("record run completion failed", "error", cerr)
		}
		cancel()
	}
	if err != nil {
		logger.Error("consultation failed", "error", err)
		return res, err
	}
	logger.Info("consultation complete", "location", res.Context.Location.Formatted,
		"tokens", run.Tokens, "duration", time.Since(run.StartedAt).Round(time.Millisecond))
	return res, nil
}

func (s *Service) run(ctx context.Context, req Request, run *models.ConsultationRun, logger *slog.Logger, sink Sink) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res := &Result{RunID: run.RunID, Context: &Context{}}
	cc := res.Context
	status := func(stage string) error {
		return sink(Event{Type: EventStatus, Stage: stage, RunID: run.RunID})
	}

	if err := status("geocode"); err != nil {
		return res, err
	}
	err := tracing.Stage(ctx, "geocode", func(ctx context.Context) error {
		if req.Lat != nil && req.Lon != nil {
			cc.Location = models.Location{Query: req.Location, Lat: *req.Lat, Lon: *req.Lon, Formatted: req.Location}
			return nil
		}
		loc, err := s.Geocoder.Geocode(ctx, req.Location)
		cc.Location = loc
		return err
	})
	if err != nil {
		return res, fmt.Errorf("geocode: %w", err)
	}
	lat, lon := cc.Location.Lat, cc.Location.Lon
	run.Lat = sql.NullFloat64{Float64: lat, Valid: true}
	run.Lon = sql.NullFloat64{Float64: lon, Valid: true}
	if err := sink(Event{Type: EventLocation, RunID: run.RunID, Location: &cc.Location}); err != nil {
		return res, err
	}

	if err := status("soil"); err != nil {
		return res, err
	}
	_ = tracing.Stage(ctx, "soil", func(ctx context.Context) error {
		soil, err := s.Soil.Classify(ctx, lat, lon)
		if err != nil {
			logger.Warn("soil lookup failed", "lat", lat, "lon", lon, "error", err)
			soil = SoilUnknown
		}
		cc.Soil = soil
		return err
	})
	run.Soil = sql.NullString{String: cc.Soil, Valid: true}

	if err := status("climate"); err != nil {
		return res, err
	}
	cat := s.Catalogs.Get()
	if cat == nil {
		return res, ErrNoCatalog
	}
	err = tracing.Stage(ctx, "climate", func(context.Context) error {
		c, err := climate.ExtractCordex(lat, lon, cat.Historical, cat.Projection)
		cc.Climate = c
		return err
	})
	if err != nil {
		return res, fmt.Errorf("climate: %w", err)
	}
	if d := cc.Climate.MaxDistanceKm(); s.opts.HazardKm > 0 && d > s.opts.HazardKm {
		logger.Warn("nearest climate cell is far from the location", "distance_km", math.Round(d))
	}

	if err := status("seasonal"); err != nil {
		return res, err
	}
	err = tracing.Stage(ctx, "seasonal", func(context.Context) error {
		a, err := s.anomaliesFor(cat)
		if err != nil {
			return err
		}
		cc.Season, err = climate.CurrentSeasonAnomaly(a, lat, lon, s.opts.Seasons, s.Clock.Now())
		return err
	})
	if err != nil {
		return res, fmt.Errorf("seasonal: %w", err)
	}
	run.Season = sql.NullString{String: cc.Season.Window.Name, Valid: true}
	run.AnomalyMm = sql.NullFloat64{Float64: cc.Season.ValueMm, Valid: !math.IsNaN(cc.Season.ValueMm)}

	if err := status("hazards"); err != nil {
		return res, err
	}
	cc.HazardSummary = hazard.Summary(nil, s.opts.HazardKm)
	if s.Hazards != nil {
		_ = tracing.Stage(ctx, "hazards", func(ctx context.Context) error {
			events, err := s.Hazards.Near(ctx, lat, lon, s.opts.HazardKm)
			if err != nil {
				logger.Warn("hazard lookup failed", "error", err)
				cc.HazardSummary = "Hazard records unavailable."
				return err
			}
			cc.Hazards = events
			cc.HazardSummary = hazard.Summary(events, s.opts.HazardKm)
			return nil
		})
	}

	res.Prompt, err = renderPrompt(s.opts.SystemRole, s.promptData(req, cc))
	if err != nil {
		return res, err
	}
	if err := sink(Event{Type: EventContext, RunID: run.RunID, Context: cc}); err != nil {
		return res, err
	}

	if err := status("generate"); err != nil {
		return res, err
	}
	err = tracing.Stage(ctx, "generate", func(ctx context.Context) error {
		out, err := s.LLM.Stream(ctx, res.Prompt.System, res.Prompt.Human, func(tok string) error {
			return sink(Event{Type: EventToken, RunID: run.RunID, Token: tok})
		})
		res.Response = out.Text
		run.Tokens = out.Chunks
		return err
	})
	if err != nil {
		return res, fmt.Errorf("generate: %w", err)
	}
	return res, nil
}

func (s *Service) promptData(req Request, cc *Context) PromptData {
	return PromptData{
		Activity:      strings.TrimSpace(req.Activity),
		Lat:           formatCoord(cc.Location.Lat),
		Lon:           formatCoord(cc.Location.Lon),
		Soil:          cc.Soil,
		PresentTemp:   cc.Climate.PresentTemp,
		FutureTemp:    cc.Climate.FutureTemp,
		PresentPrecip: cc.Climate.PresentPrecip,
		FuturePrecip:  cc.Climate.FuturePrecip,
		Season:        cc.Season.Window.Name,
		Anomaly:       formatAnomaly(cc.Season.ValueMm),
		HazardKm:      formatCoord(s.opts.HazardKm),
		Hazards:       cc.HazardSummary,
	}
}

// anomaliesFor computes the regional anomaly windows once per catalog.
func (s *Service) anomaliesFor(cat *dataset.Catalog) (*climate.Anomalies, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anomCat == cat && s.anomalies != nil {
		return s.anomalies, nil
	}
	a, err := climate.SeasonalAnomalies(cat.Seasonal, s.opts.Region)
	if err != nil {
		return nil, err
	}
	s.anomCat, s.anomalies = cat, a
	return a, nil
}

// Climate extracts the monthly tables at a point from the current catalog.
func (s *Service) Climate(lat, lon float64) (*climate.Cordex, error) {
	cat := s.Catalogs.Get()
	if cat == nil {
		return nil, ErrNoCatalog
	}
	return climate.ExtractCordex(lat, lon, cat.Historical, cat.Projection)
}

// SeasonalView is every anomaly window at a point plus the current season.
type SeasonalView struct {
	Windows []climate.Window       `json:"windows"`
	Values  []*float64             `json:"values_mm"`
	Cell    grid.Cell              `json:"cell"`
	Current *climate.SeasonAnomaly `json:"current,omitempty"`
	Note    string                 `json:"note,omitempty"`
}

// Seasonal returns the anomaly windows at a point. A month outside the
// configured seasons leaves Current nil and explains why in Note.
func (s *Service) Seasonal(lat, lon float64) (*SeasonalView, error) {
	cat := s.Catalogs.Get()
	if cat == nil {
		return nil, ErrNoCatalog
	}
	a, err := s.anomaliesFor(cat)
	if err != nil {
		return nil, err
	}
	vals, cell, err := a.Series(lat, lon)
	if err != nil {
		return nil, err
	}
	view := &SeasonalView{Windows: a.Windows, Values: climate.NullableSlice(vals), Cell: cell}
	cur, err := climate.CurrentSeasonAnomaly(a, lat, lon, s.opts.Seasons, s.Clock.Now())
	switch {
	case errors.Is(err, climate.ErrNoSeasonMatch):
		view.Note = err.Error()
	case err != nil:
		return nil, err
	default:
		view.Current = &cur
	}
	return view, nil
}
