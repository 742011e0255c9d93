package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/lox/daasclimate/internal/climate"
	"github.com/lox/daasclimate/internal/consult"
	"github.com/lox/daasclimate/internal/geocode"
)

type IndexData struct {
	Activity string
	Location string
	Error    string
}

type ResultData struct {
	Activity string
	Result   *consult.Result
	Lat, Lon string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", IndexData{
		Activity: r.URL.Query().Get("activity"),
		Location: r.URL.Query().Get("location"),
	})
}

func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	req := consult.Request{
		Activity: strings.TrimSpace(r.PostForm.Get("activity")),
		Location: strings.TrimSpace(r.PostForm.Get("location")),
	}
	form := IndexData{Activity: req.Activity, Location: req.Location}
	if err := req.Validate(); err != nil {
		form.Error = err.Error()
		s.render(w, http.StatusUnprocessableEntity, "index.html", form)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ConsultTimeout)
	defer cancel()
	res, err := s.svc.Run(ctx, req, nil)
	if err != nil {
		form.Error = userMessage(err)
		s.render(w, errorStatus(err), "index.html", form)
		return
	}

	loc := res.Context.Location
	s.render(w, http.StatusOK, "result.html", ResultData{
		Activity: req.Activity,
		Result:   res,
		Lat:      strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		Lon:      strconv.FormatFloat(loc.Lon, 'f', -1, 64),
	})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("template error", "template", name, "error", err)
	}
}

// userMessage is the text shown for a failed consultation.
func userMessage(err error) string {
	switch {
	case errors.Is(err, geocode.ErrNotFound):
		return "Location not found. Try adding the region or country."
	case errors.Is(err, climate.ErrNoSeasonMatch):
		return "No seasonal forecast covers the current month: " + err.Error()
	case errors.Is(err, consult.ErrNoCatalog):
		return "Climate datasets are not loaded yet. Try again later."
	case errors.Is(err, context.DeadlineExceeded):
		return "The consultation took too long and was stopped."
	case errors.Is(err, context.Canceled):
		return "The consultation was cancelled."
	default:
		return "The consultation failed: " + err.Error()
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, geocode.ErrNotFound), errors.Is(err, climate.ErrNoSeasonMatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, consult.ErrNoCatalog):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
