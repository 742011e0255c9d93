package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/daasclimate/internal/consult"
)

func (s *Server) handleAPIClimate(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := parseLatLon(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.svc.Climate(lat, lon)
	if err != nil {
		writeJSONError(w, dataErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAPISeasonal(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := parseLatLon(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.svc.Seasonal(lat, lon)
	if err != nil {
		writeJSONError(w, dataErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type HealthStatus struct {
	Status   string         `json:"status"`
	Dataset  *DatasetHealth `json:"dataset,omitempty"`
	Database string         `json:"database"`
	Errors   []string       `json:"errors,omitempty"`
}

type DatasetHealth struct {
	LoadedAt time.Time `json:"loaded_at"`
	Files    int       `json:"files"`
	Flags    int       `json:"quality_flags"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", Database: "ok"}

	if cat := s.catalogs.Get(); cat != nil {
		dh := &DatasetHealth{LoadedAt: cat.LoadedAt, Flags: len(cat.Flags)}
		for _, files := range cat.Files {
			dh.Files += len(files)
		}
		health.Dataset = dh
	} else {
		health.Status = "error"
		health.Errors = append(health.Errors, "datasets not loaded")
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			health.Status = "error"
			health.Database = "error"
			health.Errors = append(health.Errors, "database: "+err.Error())
		}
	} else {
		health.Database = "disabled"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// parseLatLon reads the required lat and lon query parameters.
func parseLatLon(r *http.Request) (lat, lon float64, err error) {
	q := r.URL.Query()
	lat, err = strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("lat: want a number, got %q", q.Get("lat"))
	}
	lon, err = strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("lon: want a number, got %q", q.Get("lon"))
	}
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("lat %g out of range", lat)
	}
	if lon < -180 || lon > 360 {
		return 0, 0, fmt.Errorf("lon %g out of range", lon)
	}
	return lat, lon, nil
}

func dataErrorStatus(err error) int {
	if errors.Is(err, consult.ErrNoCatalog) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
