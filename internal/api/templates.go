package api

import (
	"embed"
	"fmt"
	"html/template"
	"math"
	"strings"
	"time"
)

//go:embed templates/*
var templateFS embed.FS

// newTemplates parses the HTML templates with custom functions.
func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"num": func(f float64) string {
			if math.IsNaN(f) {
				return "n/a"
			}
			return fmt.Sprintf("%.1f", f)
		},
		"month": func(m time.Month) string {
			return m.String()[:3]
		},
		"date": func(t time.Time) string {
			return t.Format(time.DateOnly)
		},
		"paragraphs": func(s string) []string {
			var out []string
			for _, p := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}
