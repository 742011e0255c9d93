package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lox/daasclimate/internal/chart"
)

// handleChart serves the monthly temperature or precipitation chart at a
// point. Rendered charts are cached and concurrent renders of the same
// chart are collapsed.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if kind != "temperature" && kind != "precipitation" {
		http.NotFound(w, r)
		return
	}
	lat, lon, err := parseLatLon(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := fmt.Sprintf("%s/%.4f/%.4f", kind, lat, lon)
	if data, ok := s.charts.Get(key); ok {
		s.servePNG(w, data)
		return
	}

	v, err, _ := s.chartGroup.Do(key, func() (any, error) {
		if data, ok := s.charts.Get(key); ok {
			return data, nil
		}
		c, err := s.svc.Climate(lat, lon)
		if err != nil {
			return nil, err
		}
		lc := chart.FromRows("Monthly mean temperature", "°C", c.Temperature)
		if kind == "precipitation" {
			lc = chart.FromRows("Monthly precipitation", "mm/month", c.Precipitation)
		}
		data, err := lc.Render()
		if err != nil {
			return nil, err
		}
		s.charts.Set(key, data)
		return data, nil
	})
	if err != nil {
		s.logger.Warn("chart render failed", "kind", kind, "lat", lat, "lon", lon, "error", err)
		status := dataErrorStatus(err)
		if errors.Is(err, chart.ErrNoData) {
			status = http.StatusNotFound
		}
		http.Error(w, "chart unavailable", status)
		return
	}
	s.servePNG(w, v.([]byte))
}

func (s *Server) servePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}
