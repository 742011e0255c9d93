package api

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/lox/daasclimate/internal/chart"
	"github.com/lox/daasclimate/internal/climate"
	"github.com/lox/daasclimate/internal/consult"
	"github.com/lox/daasclimate/internal/tracing"
)

// Consulter is the consultation service behind the handlers.
// *consult.Service implements it.
type Consulter interface {
	Run(ctx context.Context, req consult.Request, sink consult.Sink) (*consult.Result, error)
	Climate(lat, lon float64) (*climate.Cordex, error)
	Seasonal(lat, lon float64) (*consult.SeasonalView, error)
}

// Pinger reports database reachability. *store.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	// ConsultTimeout bounds one consultation, model streaming included.
	ConsultTimeout time.Duration
}

type Server struct {
	svc      Consulter
	catalogs consult.CatalogSource
	db       Pinger
	opts     Options
	tmpl     *template.Template
	charts   *chart.Cache
	logger   *slog.Logger

	chartGroup singleflight.Group
}

func NewServer(svc Consulter, catalogs consult.CatalogSource, db Pinger, opts Options, logger *slog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.ConsultTimeout <= 0 {
		opts.ConsultTimeout = 5 * time.Minute
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		svc:      svc,
		catalogs: catalogs,
		db:       db,
		opts:     opts,
		tmpl:     newTemplates(),
		charts:   chart.NewCache(time.Hour, 512, nil),
		logger:   logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware)

	r.Get("/", s.handleIndex)
	r.Post("/consult", s.handleConsult)
	r.Get("/ws/consult", s.handleConsultSocket)
	r.Get("/chart/{kind}.png", s.handleChart)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/climate", s.handleAPIClimate)
		r.Get("/seasonal", s.handleAPISeasonal)
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
	}()

	s.logger.Info("http server starting", "addr", s.opts.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
