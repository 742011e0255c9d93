package models

import (
	"database/sql"
	"fmt"
	"time"
)

// Location is a geocoded place.
type Location struct {
	Query     string  `json:"query"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Formatted string  `json:"formatted"`
}

// MapURL links to the location on OpenStreetMap.
func (l Location) MapURL() string {
	return fmt.Sprintf("https://www.openstreetmap.org/?mlat=%.5f&mlon=%.5f#map=10/%.5f/%.5f", l.Lat, l.Lon, l.Lat, l.Lon)
}

type HazardEvent struct {
	ID          int64     `json:"id"`
	Table       string    `json:"table"`
	EventDate   time.Time `json:"event_date"`
	EventType   string    `json:"event_type"`
	Country     string    `json:"country"`
	Description string    `json:"description"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	DistanceKm  float64   `json:"distance_km"`
}

// Consultation run statuses.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunError   = "error"
)

// ConsultationRun is the audit row for one consultation. The model's
// response text is never stored.
type ConsultationRun struct {
	ID         int64
	RunID      string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Activity   string
	Location   string
	Lat        sql.NullFloat64
	Lon        sql.NullFloat64
	Soil       sql.NullString
	Season     sql.NullString
	AnomalyMm  sql.NullFloat64
	Status     string
	Tokens     int
	DurationMs sql.NullInt64
	Error      sql.NullString
}
